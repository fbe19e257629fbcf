package scenario

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/procexec"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

// Step statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const defaultStepTimeout = 5 * time.Minute

var ErrNoTransport = errors.New("no wrapper transport for simulation step")

// StepResult is the outcome of a step.
type StepResult struct {
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Steps    []StepResult  `json:"steps"`
}

// Report gathers the results of a scenario file run.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Scenarios []Result  `json:"scenarios"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
}

// ExitCode is 0 when nothing failed, 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed > 0 {
		return 1
	}

	return 0
}

// Runner executes scenarios.
type Runner struct {
	Exec procexec.Runner
	// Transport receives simulation steps. When nil simulation steps fail.
	Transport wrapper.Transport
	// Dir is the base directory of relative paths and commands.
	Dir string
	now func() time.Time
}

// NewRunner returns a Runner using real subprocesses.
func NewRunner(transport wrapper.Transport, dir string) *Runner {
	return &Runner{Exec: procexec.Exec{}, Transport: transport, Dir: dir, now: time.Now}
}

// RunFile runs every scenario of f carrying tag.
func (r *Runner) RunFile(ctx context.Context, f *File, tag string) (*Report, error) {
	rep := &Report{Timestamp: r.clock()}
	for i := range f.Scenarios {
		s := &f.Scenarios[i]
		if !s.HasTag(tag) {
			continue
		}
		res, err := r.Run(ctx, s)
		if err != nil {
			return rep, err
		}
		switch res.Status {
		case StatusPassed:
			rep.Passed++
		case StatusFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
		rep.Scenarios = append(rep.Scenarios, *res)
	}

	return rep, nil
}

// Run executes the steps of s in dependency order. A failed or skipped step skips
// every step depending on it. The returned error is only set when s is invalid or
// ctx is done.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	order, err := Order(s)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %q", s.Name)
	}
	steps := make(map[string]*Step, len(s.Steps))
	for i := range s.Steps {
		steps[s.Steps[i].Name] = &s.Steps[i]
	}

	start := r.clock()
	res := &Result{Name: s.Name, Status: StatusPassed}
	done := make(map[string]*StepResult, len(order))
	for _, name := range order {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "scenario %q", s.Name)
		}
		st := steps[name]
		var sr StepResult
		if blocker := blockedBy(st, done); blocker != "" {
			sr = StepResult{Name: st.Name, Type: st.Type, Status: StatusSkipped, Error: "dependency " + blocker + " did not pass"}
		} else {
			sr = r.runStep(ctx, st, done)
		}
		glog.Infof("scenario %s step %s: %s", s.Name, st.Name, sr.Status)
		if sr.Status != StatusPassed {
			res.Status = StatusFailed
		}
		res.Steps = append(res.Steps, sr)
		done[name] = &res.Steps[len(res.Steps)-1]
	}
	res.Duration = r.clock().Sub(start)

	return res, nil
}

func (r *Runner) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}

	return r.now()
}

func blockedBy(st *Step, done map[string]*StepResult) string {
	for _, dep := range st.dependencies() {
		if d, ok := done[dep]; !ok || d.Status != StatusPassed {
			return dep
		}
	}

	return ""
}

func (r *Runner) runStep(ctx context.Context, st *Step, done map[string]*StepResult) StepResult {
	start := r.clock()
	sr := StepResult{Name: st.Name, Type: st.Type}
	var (
		out string
		err error
	)
	switch st.Type {
	case TypeCommand:
		out, err = r.command(ctx, st)
	case TypeValidation:
		err = r.validate(st, done)
	case TypeSimulation:
		out, err = r.simulate(ctx, st)
	}
	sr.Duration = r.clock().Sub(start)
	sr.Output = out
	sr.Status = StatusPassed
	if err != nil {
		sr.Status = StatusFailed
		sr.Error = err.Error()
	}

	return sr
}

func (r *Runner) path(p string) string {
	if filepath.IsAbs(p) || r.Dir == "" {
		return p
	}

	return filepath.Join(r.Dir, p)
}

func (r *Runner) command(ctx context.Context, st *Step) (string, error) {
	timeout := st.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	dir := r.Dir
	if st.Dir != "" {
		dir = r.path(st.Dir)
	}
	res, err := r.Exec.Run(ctx, procexec.Cmd{Name: st.Command, Args: st.Args, Dir: dir, Env: st.Env, Timeout: timeout})
	if err != nil {
		return res.Output, err
	}
	if res.TimedOut {
		return res.Output, errors.Errorf("timed out after %s", timeout)
	}
	expect := 0
	if st.ExpectExit != nil {
		expect = *st.ExpectExit
	}
	if res.ExitCode != expect {
		return res.Output, errors.Errorf("exit code %d, expected %d", res.ExitCode, expect)
	}

	return res.Output, nil
}

func (r *Runner) validate(st *Step, done map[string]*StepResult) error {
	switch st.Check {
	case CheckFileExists:
		_, err := os.Stat(r.path(st.Path))
		if err != nil {
			return errors.Wrapf(err, "file %s", st.Path)
		}
	case CheckJSONEquals:
		return r.jsonEquals(st)
	case CheckOutputMatches:
		re, err := regexp.Compile(st.Pattern)
		if err != nil {
			return errors.Wrapf(err, "invalid pattern %q", st.Pattern)
		}
		if !re.MatchString(done[st.FromStep].Output) {
			return errors.Errorf("output of %s does not match %q", st.FromStep, st.Pattern)
		}
	}

	return nil
}

func (r *Runner) jsonEquals(st *Step) error {
	data, err := os.ReadFile(r.path(st.Path))
	if err != nil {
		return errors.Wrapf(err, "unable to read %s", st.Path)
	}
	var doc interface{}
	err = json.Unmarshal(data, &doc)
	if err != nil {
		return errors.Wrapf(err, "unable to parse %s", st.Path)
	}
	got, err := JSONPath(doc, st.JSONPath)
	if err != nil {
		return err
	}
	want, err := normalize(st.Equals)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(got, want) {
		return errors.Errorf("%s is %v, expected %v", st.JSONPath, got, want)
	}

	return nil
}

// normalize converts a YAML decoded value to its JSON decoded form.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode expected value")
	}
	var out interface{}
	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode expected value")
	}

	return out, nil
}

// JSONPath resolves a dotted path such as "summary.tests.0.name" in a decoded JSON
// document. Numeric segments index arrays.
func JSONPath(doc interface{}, path string) (interface{}, error) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[seg]
			if !ok {
				return nil, errors.Errorf("json path %s: missing key %q", path, seg)
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, errors.Errorf("json path %s: invalid index %q", path, seg)
			}
			cur = v[i]
		default:
			return nil, errors.Errorf("json path %s: cannot descend into %q", path, seg)
		}
	}

	return cur, nil
}

func (r *Runner) simulate(ctx context.Context, st *Step) (string, error) {
	if r.Transport == nil {
		return "", ErrNoTransport
	}
	reply, err := r.Transport.Command(ctx, st.WrapperCommand)
	if err != nil {
		return reply, err
	}
	if st.Expect != "" {
		re, err := regexp.Compile(st.Expect)
		if err != nil {
			return reply, errors.Wrapf(err, "invalid expect %q", st.Expect)
		}
		if !re.MatchString(reply) {
			return reply, errors.Errorf("reply %q does not match %q", reply, st.Expect)
		}
	}

	return reply, nil
}

// WriteJSON writes the report to path.
func WriteJSON(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode scenario report")
	}
	err = os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return errors.Wrap(err, "unable to create report directory")
	}

	return errors.Wrapf(os.WriteFile(path, data, 0o644), "unable to write %s", path)
}
