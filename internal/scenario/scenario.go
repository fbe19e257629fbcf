// Package scenario runs the YAML described CI scenarios: ordered command,
// validation and simulation steps with dependencies between them.
package scenario

import (
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/config"
)

// Step types.
const (
	TypeCommand    = "command"
	TypeValidation = "validation"
	TypeSimulation = "simulation"
)

// Validation checks.
const (
	CheckFileExists    = "file_exists"
	CheckJSONEquals    = "json_equals"
	CheckOutputMatches = "output_matches"
)

var (
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycle             = errors.New("dependency cycle")
	ErrInvalidStep       = errors.New("invalid step")
)

// Step is one unit of work of a scenario.
type Step struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	DependsOn []string `yaml:"depends_on,omitempty"`

	// command
	Command    string            `yaml:"command,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Dir        string            `yaml:"dir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
	ExpectExit *int              `yaml:"expect_exit,omitempty"`

	// validation
	Check    string      `yaml:"check,omitempty"`
	Path     string      `yaml:"path,omitempty"`
	JSONPath string      `yaml:"json_path,omitempty"`
	Equals   interface{} `yaml:"equals,omitempty"`
	FromStep string      `yaml:"from_step,omitempty"`
	Pattern  string      `yaml:"pattern,omitempty"`

	// simulation
	WrapperCommand string `yaml:"wrapper_command,omitempty"`
	Expect         string `yaml:"expect,omitempty"`
}

// Scenario is a named list of steps.
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	Steps       []Step   `yaml:"steps"`
}

// File is a scenario YAML document.
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Load reads and validates the scenarios at path.
func Load(path string) (*File, error) {
	f := &File{}
	err := config.LoadYAML(path, f)
	if err != nil {
		return nil, err
	}
	for i := range f.Scenarios {
		_, err := Order(&f.Scenarios[i])
		if err != nil {
			return nil, errors.Wrapf(err, "scenario %q", f.Scenarios[i].Name)
		}
	}

	return f, nil
}

// HasTag reports whether the scenario carries tag. An empty tag matches.
func (s *Scenario) HasTag(tag string) bool {
	if tag == "" {
		return true
	}
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// dependencies lists the steps st waits for: depends_on, plus the step whose
// output an output_matches validation reads.
func (st *Step) dependencies() []string {
	deps := append([]string{}, st.DependsOn...)
	if st.Type == TypeValidation && st.Check == CheckOutputMatches && st.FromStep != "" {
		deps = append(deps, st.FromStep)
	}

	return deps
}

func (st *Step) validate() error {
	if st.Name == "" {
		return errors.Wrap(ErrInvalidStep, "step without name")
	}
	switch st.Type {
	case TypeCommand:
		if st.Command == "" {
			return errors.Wrapf(ErrInvalidStep, "%s: command is required", st.Name)
		}
	case TypeValidation:
		switch st.Check {
		case CheckFileExists:
			if st.Path == "" {
				return errors.Wrapf(ErrInvalidStep, "%s: path is required", st.Name)
			}
		case CheckJSONEquals:
			if st.Path == "" || st.JSONPath == "" {
				return errors.Wrapf(ErrInvalidStep, "%s: path and json_path are required", st.Name)
			}
		case CheckOutputMatches:
			if st.FromStep == "" || st.Pattern == "" {
				return errors.Wrapf(ErrInvalidStep, "%s: from_step and pattern are required", st.Name)
			}
		default:
			return errors.Wrapf(ErrInvalidStep, "%s: unknown check %q", st.Name, st.Check)
		}
	case TypeSimulation:
		if st.WrapperCommand == "" {
			return errors.Wrapf(ErrInvalidStep, "%s: wrapper_command is required", st.Name)
		}
	default:
		return errors.Wrapf(ErrInvalidStep, "%s: unknown type %q", st.Name, st.Type)
	}

	return nil
}

// Order returns the step names in execution order. Steps run after their
// dependencies and otherwise in declaration order.
func Order(s *Scenario) ([]string, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	position := map[string]int{}
	for i := range s.Steps {
		st := &s.Steps[i]
		err := st.validate()
		if err != nil {
			return nil, err
		}
		err = g.AddVertex(st.Name)
		if errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, errors.Wrapf(ErrInvalidStep, "duplicate step %s", st.Name)
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to add step")
		}
		position[st.Name] = i
	}
	for _, st := range s.Steps {
		deps := st.dependencies()
		for _, dep := range deps {
			if _, ok := position[dep]; !ok {
				return nil, errors.Wrapf(ErrUnknownDependency, "%s depends on %s", st.Name, dep)
			}
			err := g.AddEdge(dep, st.Name)
			switch {
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, errors.Wrapf(ErrCycle, "%s -> %s", dep, st.Name)
			case err != nil:
				return nil, errors.Wrap(err, "unable to add dependency")
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return position[a] < position[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to order steps")
	}

	return order, nil
}
