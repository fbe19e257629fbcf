package measure

import "time"

// Measure stores one Metric per stage.
type Measure interface {
	AddMetric(name string, concurrent int) Metric
	GetMetric(name string) Metric
	AllMetrics() map[string]Metric
}

// Metric accumulates the timings of a single stage.
type Metric interface {
	// AddDuration records the time spent in the stage function for one item.
	AddDuration(elapsed time.Duration)
	// AddTransportDuration records the time spent waiting on a parent stage.
	AddTransportDuration(inputStageName string, elapsed time.Duration)
	AVGDuration() time.Duration
	AVGTransportDuration() map[string]time.Duration
	SetTotalDuration(total time.Duration)
	GetTotalDuration() time.Duration
	Count() int64
}
