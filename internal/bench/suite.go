// Package bench times build and test commands, samples their resource usage and
// reports on firmware memory usage.
package bench

import (
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/config"
)

// Task is one command of a benchmark suite.
type Task struct {
	Name       string            `yaml:"name" json:"name"`
	Command    string            `yaml:"command" json:"command"`
	Args       []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Dir        string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Iterations int               `yaml:"iterations,omitempty" json:"iterations"`
	Timeout    time.Duration     `yaml:"timeout,omitempty" json:"timeout_ns"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Suite is a benchmark YAML document.
type Suite struct {
	Name           string        `yaml:"name"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Concurrency    int           `yaml:"concurrency"`
	Tasks          []Task        `yaml:"tasks"`
}

const (
	defaultIterations     = 1
	defaultTimeout        = 5 * time.Minute
	defaultSampleInterval = 100 * time.Millisecond
)

// LoadSuite reads and validates the suite at path.
func LoadSuite(path string) (*Suite, error) {
	suite := &Suite{}
	err := config.LoadYAML(path, suite)
	if err != nil {
		return nil, err
	}
	err = suite.Normalize()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid suite %s", path)
	}

	return suite, nil
}

// Normalize applies defaults and checks that task names are set and unique.
func (s *Suite) Normalize() error {
	if len(s.Tasks) == 0 {
		return errors.New("suite has no task")
	}
	if s.SampleInterval <= 0 {
		s.SampleInterval = defaultSampleInterval
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	seen := map[string]bool{}
	for i := range s.Tasks {
		task := &s.Tasks[i]
		if task.Name == "" || task.Command == "" {
			return errors.Errorf("task %d needs a name and a command", i)
		}
		if seen[task.Name] {
			return errors.Errorf("duplicate task %s", task.Name)
		}
		seen[task.Name] = true
		if task.Iterations < 1 {
			task.Iterations = defaultIterations
		}
		if task.Timeout <= 0 {
			task.Timeout = defaultTimeout
		}
	}

	return nil
}
