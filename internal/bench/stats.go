package bench

import (
	"sort"
	"time"
)

// TaskStats aggregates the iterations of a task.
type TaskStats struct {
	Name       string        `json:"name"`
	Iterations int           `json:"iterations"`
	Failures   int           `json:"failures"`
	Timeouts   int           `json:"timeouts"`
	Min        time.Duration `json:"min_ns"`
	Max        time.Duration `json:"max_ns"`
	Mean       time.Duration `json:"mean_ns"`
	Median     time.Duration `json:"median_ns"`
	PeakRSS    uint64        `json:"peak_rss_bytes"`
	MeanCPU    float64       `json:"mean_cpu_percent"`
}

// Passed reports whether every iteration succeeded.
func (s TaskStats) Passed() bool {
	return s.Failures == 0 && s.Timeouts == 0
}

// Aggregate computes the stats of runs, which must all belong to task name.
func Aggregate(name string, runs []Run) TaskStats {
	stats := TaskStats{Name: name, Iterations: len(runs)}
	if len(runs) == 0 {
		return stats
	}

	durations := make([]time.Duration, 0, len(runs))
	var total time.Duration
	var cpuSum float64
	cpuRuns := 0
	for _, run := range runs {
		switch {
		case run.TimedOut:
			stats.Timeouts++
		case run.Failed():
			stats.Failures++
		}
		durations = append(durations, run.Duration)
		total += run.Duration
		if run.PeakRSS > stats.PeakRSS {
			stats.PeakRSS = run.PeakRSS
		}
		if run.Samples > 0 {
			cpuSum += run.MeanCPU
			cpuRuns++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	stats.Min = durations[0]
	stats.Max = durations[len(durations)-1]
	stats.Mean = total / time.Duration(len(durations))
	mid := len(durations) / 2
	if len(durations)%2 == 0 {
		stats.Median = (durations[mid-1] + durations[mid]) / 2
	} else {
		stats.Median = durations[mid]
	}
	if cpuRuns > 0 {
		stats.MeanCPU = cpuSum / float64(cpuRuns)
	}

	return stats
}
