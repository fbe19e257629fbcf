package bench

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/askiada/sonicator-hil/pkg/pipeline"
	"github.com/askiada/sonicator-hil/pkg/pipeline/drawer"
	"github.com/askiada/sonicator-hil/pkg/pipeline/measure"
	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// Default report names.
const (
	ReportFile = "performance_report.json"
	MemoryFile = "memory_report.json"
)

// SystemInfo is a snapshot of the host.
type SystemInfo struct {
	OS            string  `json:"os"`
	Arch          string  `json:"arch"`
	CPUs          int     `json:"cpus"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
}

// Report is written to performance_report.json.
type Report struct {
	Suite     string              `json:"suite"`
	Timestamp time.Time           `json:"timestamp"`
	Duration  time.Duration       `json:"duration_ns"`
	Before    SystemInfo          `json:"system_before"`
	After     SystemInfo          `json:"system_after"`
	Tasks     []TaskStats         `json:"tasks"`
	Stages    []measure.StageStat `json:"stages"`
	Passed    bool                `json:"passed"`
}

// Options tunes a benchmark run.
type Options struct {
	// RunLog receives one JSON line per iteration when set.
	RunLog io.Writer
	// DOTFile receives the pipeline graph when set.
	DOTFile string
}

// systemInfo never fails: missing values are left at zero.
func systemInfo() SystemInfo {
	info := SystemInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, CPUs: runtime.NumCPU()}
	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	} else if err != nil {
		glog.V(1).Infof("unable to read cpu usage: %v", err)
	}
	vm, err := mem.VirtualMemory()
	if err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsedPct = vm.UsedPercent
	} else {
		glog.V(1).Infof("unable to read memory usage: %v", err)
	}

	return info
}

// Execute runs every iteration of suite and aggregates the results.
//
// Iterations flow through a pipeline: tasks are expanded into iterations, executed
// with suite.Concurrency workers and copied to an aggregating sink and to the run
// log.
func Execute(ctx context.Context, suite *Suite, opts Options) (*Report, error) {
	err := suite.Normalize()
	if err != nil {
		return nil, err
	}

	msr := measure.NewDefaultMeasure()
	hooks := []model.Hook{measure.Hook(msr)}
	if opts.DOTFile != "" {
		hooks = append(hooks, drawer.Hook(drawer.NewDOTDrawer(opts.DOTFile), msr))
	}

	report := &Report{Suite: suite.Name, Timestamp: time.Now().UTC(), Before: systemInfo()}

	pipe, err := pipeline.New(ctx, hooks...)
	if err != nil {
		return nil, err
	}
	tasks, err := pipeline.AddSliceSource(pipe, "tasks", suite.Tasks)
	if err != nil {
		return nil, err
	}
	iterations, err := pipeline.AddExpand(pipe, "iterations", tasks, func(_ context.Context, task Task) ([]iteration, error) {
		res := make([]iteration, task.Iterations)
		for i := range res {
			res[i] = iteration{task: task, index: i + 1}
		}

		return res, nil
	})
	if err != nil {
		return nil, err
	}
	runs, err := pipeline.AddStage(pipe, "execute", iterations, func(ctx context.Context, it iteration) (Run, error) {
		run := execute(ctx, it, suite.SampleInterval)
		glog.Infof("%s #%d: %v exit=%d", run.Task, run.Iteration, run.Duration, run.ExitCode)

		return run, nil
	}, pipeline.StageConcurrency(suite.Concurrency))
	if err != nil {
		return nil, err
	}
	fan, err := pipeline.AddFanOut(pipe, "results", runs, 2, pipeline.StageBuffer(suite.Concurrency))
	if err != nil {
		return nil, err
	}

	byTask := map[string][]Run{}
	err = pipeline.AddSink(pipe, "aggregate", fan.Branch(0), func(_ context.Context, run Run) error {
		byTask[run.Task] = append(byTask[run.Task], run)

		return nil
	})
	if err != nil {
		return nil, err
	}

	runLog := opts.RunLog
	if runLog == nil {
		runLog = io.Discard
	}
	enc := json.NewEncoder(runLog)
	err = pipeline.AddSink(pipe, "runlog", fan.Branch(1), func(_ context.Context, run Run) error {
		return errors.Wrap(enc.Encode(run), "unable to write run log")
	})
	if err != nil {
		return nil, err
	}

	err = pipe.Run()
	if err != nil {
		return nil, errors.Wrap(err, "benchmark pipeline failed")
	}

	report.Duration = pipe.Elapsed()
	report.After = systemInfo()
	report.Passed = true
	for _, task := range suite.Tasks {
		stats := Aggregate(task.Name, byTask[task.Name])
		report.Tasks = append(report.Tasks, stats)
		if !stats.Passed() {
			report.Passed = false
		}
	}
	report.Stages = measure.Snapshot(msr)

	return report, nil
}

// WriteJSON writes v indented to path, creating its directory.
func WriteJSON(path string, v interface{}) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", filepath.Dir(path))
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode report")
	}
	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to write %s", path)
	}

	return nil
}
