package bench_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/bench"
)

func TestLoadSuite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: firmware
sample_interval: 20ms
tasks:
  - name: build
    command: pio
    args: [run, -e, atmega32a]
    iterations: 3
    timeout: 10m
  - name: unit
    command: make
    env:
      CI: "true"
`), 0o600))

	suite, err := bench.LoadSuite(path)
	require.NoError(t, err)
	assert.Equal(t, "firmware", suite.Name)
	assert.Equal(t, 20*time.Millisecond, suite.SampleInterval)
	assert.Equal(t, 1, suite.Concurrency)
	require.Len(t, suite.Tasks, 2)
	assert.Equal(t, []string{"run", "-e", "atmega32a"}, suite.Tasks[0].Args)
	assert.Equal(t, 10*time.Minute, suite.Tasks[0].Timeout)
	assert.Equal(t, 1, suite.Tasks[1].Iterations)
	assert.Equal(t, 5*time.Minute, suite.Tasks[1].Timeout)
	assert.Equal(t, map[string]string{"CI": "true"}, suite.Tasks[1].Env)
}

func TestSuiteNormalizeErrors(t *testing.T) {
	t.Parallel()

	require.Error(t, (&bench.Suite{}).Normalize())
	require.Error(t, (&bench.Suite{Tasks: []bench.Task{{Name: "a"}}}).Normalize())
	require.Error(t, (&bench.Suite{Tasks: []bench.Task{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}}}).Normalize())
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	stats := bench.Aggregate("build", []bench.Run{
		{Duration: 30 * time.Millisecond, PeakRSS: 100, MeanCPU: 10, Samples: 2},
		{Duration: 10 * time.Millisecond, PeakRSS: 300, MeanCPU: 30, Samples: 1},
		{Duration: 20 * time.Millisecond, ExitCode: 2},
		{Duration: 40 * time.Millisecond, TimedOut: true, ExitCode: -1},
	})

	assert.Equal(t, bench.TaskStats{
		Name:       "build",
		Iterations: 4,
		Failures:   1,
		Timeouts:   1,
		Min:        10 * time.Millisecond,
		Max:        40 * time.Millisecond,
		Mean:       25 * time.Millisecond,
		Median:     25 * time.Millisecond,
		PeakRSS:    300,
		MeanCPU:    20,
	}, stats)
	assert.False(t, stats.Passed())
	assert.Equal(t, bench.TaskStats{Name: "empty"}, bench.Aggregate("empty", nil))
}

func TestExecute(t *testing.T) {
	t.Parallel()

	suite := &bench.Suite{
		Name:           "shell",
		SampleInterval: 5 * time.Millisecond,
		Concurrency:    2,
		Tasks: []bench.Task{
			{Name: "ok", Command: "sh", Args: []string{"-c", "echo $BENCH_VALUE"}, Iterations: 3, Env: map[string]string{"BENCH_VALUE": "42"}},
			{Name: "fail", Command: "sh", Args: []string{"-c", "exit 3"}},
			{Name: "slow", Command: "sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond},
			{Name: "missing", Command: "definitely-not-a-command-hil"},
		},
	}
	runLog := &bytes.Buffer{}
	dot := filepath.Join(t.TempDir(), "bench.dot")

	report, err := bench.Execute(context.Background(), suite, bench.Options{RunLog: runLog, DOTFile: dot})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	require.Len(t, report.Tasks, 4)

	assert.Equal(t, "ok", report.Tasks[0].Name)
	assert.Equal(t, 3, report.Tasks[0].Iterations)
	assert.True(t, report.Tasks[0].Passed())
	assert.Equal(t, 1, report.Tasks[1].Failures)
	assert.Equal(t, 1, report.Tasks[2].Timeouts)
	assert.Equal(t, 1, report.Tasks[3].Failures)

	lines := strings.Split(strings.TrimSpace(runLog.String()), "\n")
	assert.Len(t, lines, 6)
	run := bench.Run{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &run))
	assert.NotEmpty(t, run.Task)

	names := []string{}
	for _, stage := range report.Stages {
		names = append(names, stage.Name)
	}
	assert.Subset(t, names, []string{"tasks", "iterations", "execute", "aggregate", "runlog"})

	data, err := os.ReadFile(dot)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"execute" -> "results"`)

	table := &bytes.Buffer{}
	require.NoError(t, bench.RenderTable(table, report))
	assert.Contains(t, table.String(), "slow")

	path := filepath.Join(t.TempDir(), "out", "performance_report.json")
	require.NoError(t, bench.WriteJSON(path, report))
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestParseMemoryReportBerkeley(t *testing.T) {
	t.Parallel()

	out := "   text\t   data\t    bss\t    dec\t    hex\tfilename\n  12000\t    200\t   1500\t  13700\t   3584\tfirmware.elf\n"
	report, err := bench.ParseMemoryReport(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 12000, report.Text)
	assert.Equal(t, 12200, report.Flash.Used)
	assert.Equal(t, bench.FlashSize, report.Flash.Total)
	assert.Equal(t, 1700, report.SRAM.Used)
	assert.InDelta(t, 83.0, report.SRAM.Percent, 0.01)
	assert.Equal(t, bench.MemoryWarning, report.Status)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "sram")
}

func TestParseMemoryReportAVR(t *testing.T) {
	t.Parallel()

	out := `AVR Memory Usage
----------------
Device: atmega32

Program:   32000 bytes (97.7% Full)
(.text + .data + .bootloader)

Data:        512 bytes (25.0% Full)
(.data + .bss + .noinit)
`
	report, err := bench.ParseMemoryReport(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 32000, report.Flash.Used)
	assert.Equal(t, 512, report.SRAM.Used)
	assert.InDelta(t, 25.0, report.SRAM.Percent, 0.01)
	assert.Equal(t, bench.MemoryCritical, report.Status)

	_, err = bench.ParseMemoryReport(strings.NewReader("nothing here"))
	require.Error(t, err)
}
