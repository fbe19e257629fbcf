package scenario_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/procexec"
	"github.com/askiada/sonicator-hil/internal/scenario"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

type fakeExec map[string]procexec.Result

func (f fakeExec) Run(_ context.Context, c procexec.Cmd) (procexec.Result, error) {
	res, ok := f[c.String()]
	if !ok {
		return procexec.Result{}, errors.Errorf("unexpected command %s", c)
	}

	return res, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func TestOrderFollowsDependencies(t *testing.T) {
	t.Parallel()

	s := &scenario.Scenario{Name: "build", Steps: []scenario.Step{
		{Name: "check", Type: scenario.TypeValidation, Check: scenario.CheckFileExists, Path: "x", DependsOn: []string{"build"}},
		{Name: "lint", Type: scenario.TypeCommand, Command: "make"},
		{Name: "build", Type: scenario.TypeCommand, Command: "make", DependsOn: []string{"lint"}},
	}}
	order, err := scenario.Order(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "build", "check"}, order)
}

func TestOrderErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		steps []scenario.Step
		want  error
	}{
		"cycle": {
			steps: []scenario.Step{
				{Name: "a", Type: scenario.TypeCommand, Command: "true", DependsOn: []string{"b"}},
				{Name: "b", Type: scenario.TypeCommand, Command: "true", DependsOn: []string{"a"}},
			},
			want: scenario.ErrCycle,
		},
		"unknown dependency": {
			steps: []scenario.Step{{Name: "a", Type: scenario.TypeCommand, Command: "true", DependsOn: []string{"zzz"}}},
			want:  scenario.ErrUnknownDependency,
		},
		"unknown type": {
			steps: []scenario.Step{{Name: "a", Type: "teleport"}},
			want:  scenario.ErrInvalidStep,
		},
		"duplicate": {
			steps: []scenario.Step{
				{Name: "a", Type: scenario.TypeCommand, Command: "true"},
				{Name: "a", Type: scenario.TypeCommand, Command: "true"},
			},
			want: scenario.ErrInvalidStep,
		},
	}
	for name, tc := range tcs {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := scenario.Order(&scenario.Scenario{Name: name, Steps: tc.steps})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRunSkipsDependents(t *testing.T) {
	t.Parallel()

	r := scenario.NewRunner(nil, t.TempDir())
	r.Exec = fakeExec{
		"make lint":  {ExitCode: 0, Output: "ok"},
		"make build": {ExitCode: 2, Output: "boom"},
	}
	s := &scenario.Scenario{Name: "ci", Steps: []scenario.Step{
		{Name: "lint", Type: scenario.TypeCommand, Command: "make", Args: []string{"lint"}},
		{Name: "build", Type: scenario.TypeCommand, Command: "make", Args: []string{"build"}, DependsOn: []string{"lint"}},
		{Name: "size", Type: scenario.TypeValidation, Check: scenario.CheckOutputMatches, FromStep: "build", Pattern: "ok"},
	}}
	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, scenario.StatusFailed, res.Status)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, scenario.StatusPassed, res.Steps[0].Status)
	assert.Equal(t, scenario.StatusFailed, res.Steps[1].Status)
	assert.Contains(t, res.Steps[1].Error, "exit code 2")
	assert.Equal(t, scenario.StatusSkipped, res.Steps[2].Status)
}

func TestRunIgnoresFromStepOutsideOutputMatches(t *testing.T) {
	t.Parallel()

	r := scenario.NewRunner(nil, t.TempDir())
	r.Exec = fakeExec{
		"make build": {ExitCode: 0, Output: "ok"},
		"make flash": {ExitCode: 0, Output: "ok"},
	}
	s := &scenario.Scenario{Name: "ci", Steps: []scenario.Step{
		{Name: "build", Type: scenario.TypeCommand, Command: "make", Args: []string{"build"}, FromStep: "flash"},
		{Name: "flash", Type: scenario.TypeCommand, Command: "make", Args: []string{"flash"}},
	}}
	order, err := scenario.Order(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "flash"}, order)

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, scenario.StatusPassed, res.Status)
	for _, st := range res.Steps {
		assert.Equal(t, scenario.StatusPassed, st.Status, "%s: %s", st.Name, st.Error)
	}
}

func TestRunValidations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "report.json", `{"summary":{"failed":0,"suites":[{"name":"modbus"}]}}`)

	r := scenario.NewRunner(nil, dir)
	two := 2
	r.Exec = fakeExec{"avr-size firmware.elf": {ExitCode: 2, Output: "text 1200 data 40"}}
	s := &scenario.Scenario{Name: "checks", Steps: []scenario.Step{
		{Name: "size", Type: scenario.TypeCommand, Command: "avr-size", Args: []string{"firmware.elf"}, ExpectExit: &two},
		{Name: "exists", Type: scenario.TypeValidation, Check: scenario.CheckFileExists, Path: "report.json"},
		{Name: "failed", Type: scenario.TypeValidation, Check: scenario.CheckJSONEquals, Path: "report.json", JSONPath: "summary.failed", Equals: 0},
		{Name: "suite", Type: scenario.TypeValidation, Check: scenario.CheckJSONEquals, Path: "report.json", JSONPath: "summary.suites.0.name", Equals: "modbus"},
		{Name: "text", Type: scenario.TypeValidation, Check: scenario.CheckOutputMatches, FromStep: "size", Pattern: `text \d+`},
	}}
	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	for _, st := range res.Steps {
		assert.Equal(t, scenario.StatusPassed, st.Status, "%s: %s", st.Name, st.Error)
	}
	assert.Equal(t, scenario.StatusPassed, res.Status)
}

func TestRunSimulation(t *testing.T) {
	t.Parallel()

	sim := wrapper.NewSimulator(nil)
	client := sim.Connect(wrapper.WithTimeout(time.Second))
	t.Cleanup(func() { client.Close() })

	r := scenario.NewRunner(client, "")
	s := &scenario.Scenario{Name: "sim", Steps: []scenario.Step{
		{Name: "ping", Type: scenario.TypeSimulation, WrapperCommand: "PING", Expect: "^OK$"},
		{Name: "start", Type: scenario.TypeSimulation, WrapperCommand: "WRITE_PIN D7 HIGH", DependsOn: []string{"ping"}},
		{Name: "read", Type: scenario.TypeSimulation, WrapperCommand: "READ_PIN D7", Expect: "LOW", DependsOn: []string{"start"}},
	}}
	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, scenario.StatusPassed, res.Steps[0].Status)
	assert.Equal(t, scenario.StatusPassed, res.Steps[1].Status)
	assert.True(t, sim.Pin("D7"))
	assert.Equal(t, scenario.StatusFailed, res.Steps[2].Status)
	assert.Equal(t, "PIN D7 HIGH", res.Steps[2].Output)
}

func TestRunSimulationWithoutTransport(t *testing.T) {
	t.Parallel()

	r := scenario.NewRunner(nil, "")
	res, err := r.Run(context.Background(), &scenario.Scenario{Name: "sim", Steps: []scenario.Step{
		{Name: "ping", Type: scenario.TypeSimulation, WrapperCommand: "PING"},
	}})
	require.NoError(t, err)
	assert.Equal(t, scenario.StatusFailed, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Error, scenario.ErrNoTransport.Error())
}

func TestLoadAndRunFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "scenarios.yaml", `
scenarios:
  - name: smoke
    tags: [ci]
    steps:
      - name: hello
        type: command
        command: sh
        args: ["-c", "echo hello"]
        timeout: 10s
      - name: greeting
        type: validation
        check: output_matches
        from_step: hello
        pattern: hello
  - name: nightly
    tags: [nightly]
    steps:
      - name: never
        type: command
        command: "false"
`)
	f, err := scenario.Load(p)
	require.NoError(t, err)
	require.Len(t, f.Scenarios, 2)
	assert.Equal(t, 10*time.Second, f.Scenarios[0].Steps[0].Timeout)

	rep, err := scenario.NewRunner(nil, dir).RunFile(context.Background(), f, "ci")
	require.NoError(t, err)
	require.Len(t, rep.Scenarios, 1)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 0, rep.ExitCode())

	out := filepath.Join(dir, "out", "scenario_results.json")
	require.NoError(t, scenario.WriteJSON(out, rep))
	assert.FileExists(t, out)
}

func TestLoadRejectsCycle(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "bad.yaml", `
scenarios:
  - name: loop
    steps:
      - {name: a, type: command, command: "true", depends_on: [b]}
      - {name: b, type: command, command: "true", depends_on: [a]}
`)
	_, err := scenario.Load(p)
	assert.ErrorIs(t, err, scenario.ErrCycle)
}
