package bench

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// Run is the outcome of one iteration of a task.
type Run struct {
	Task      string        `json:"task"`
	Iteration int           `json:"iteration"`
	Duration  time.Duration `json:"duration_ns"`
	ExitCode  int           `json:"exit_code"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Error     string        `json:"error,omitempty"`
	PeakRSS   uint64        `json:"peak_rss_bytes"`
	MeanCPU   float64       `json:"mean_cpu_percent"`
	Samples   int           `json:"samples"`
	Output    string        `json:"-"`
}

// Failed reports whether the iteration did not exit cleanly.
func (r Run) Failed() bool {
	return r.TimedOut || r.ExitCode != 0 || r.Error != ""
}

type iteration struct {
	task  Task
	index int
}

// sampler polls the resource usage of pid until stop is closed.
type sampler struct {
	mu      sync.Mutex
	peakRSS uint64
	cpuSum  float64
	samples int
}

func (s *sampler) run(pid int, interval time.Duration, stop <-chan struct{}) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		glog.V(1).Infof("unable to sample pid %d: %v", pid, err)

		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.sample(proc)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *sampler) sample(proc *process.Process) {
	mem, err := proc.MemoryInfo()
	if err != nil {
		return
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem.RSS > s.peakRSS {
		s.peakRSS = mem.RSS
	}
	s.cpuSum += cpu
	s.samples++
}

// execute runs one iteration with its timeout while sampling the child process.
func execute(ctx context.Context, it iteration, interval time.Duration) Run {
	run := Run{Task: it.task.Name, Iteration: it.index}

	tctx, cancel := context.WithTimeout(ctx, it.task.Timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, it.task.Command, it.task.Args...)
	cmd.Dir = it.task.Dir
	// grandchildren may hold the output pipes open after a timeout kill
	cmd.WaitDelay = time.Second
	if len(it.task.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range it.task.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Start()
	if err != nil {
		run.ExitCode = -1
		run.Error = errors.Wrapf(err, "unable to start %s", it.task.Command).Error()

		return run
	}

	smp := &sampler{}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		smp.run(cmd.Process.Pid, interval, stop)
	}()

	err = cmd.Wait()
	run.Duration = time.Since(start)
	close(stop)
	<-done

	run.Output = out.String()
	run.PeakRSS = smp.peakRSS
	run.Samples = smp.samples
	if smp.samples > 0 {
		run.MeanCPU = smp.cpuSum / float64(smp.samples)
	}

	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		run.TimedOut = true
		run.ExitCode = -1
		run.Error = "timeout after " + it.task.Timeout.String()

		return run
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		run.ExitCode = exitErr.ExitCode()
	case err != nil:
		run.ExitCode = -1
		run.Error = err.Error()
	}

	return run
}
