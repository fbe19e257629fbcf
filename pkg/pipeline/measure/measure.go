// Package measure records per-stage timings of a pipeline run. Benchmark reports
// embed its Snapshot.
package measure

import (
	"sort"
	"sync"
	"time"
)

// DefaultMeasure is an in-memory Measure safe for concurrent use.
type DefaultMeasure struct {
	mu    sync.Mutex
	Steps map[string]Metric
}

func NewDefaultMeasure() *DefaultMeasure {
	return &DefaultMeasure{
		Steps: make(map[string]Metric),
	}
}

// AddMetric registers a stage. Registering the same name twice keeps the first
// metric so that fan in workers sharing a name share a metric.
func (m *DefaultMeasure) AddMetric(name string, concurrent int) Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mt, ok := m.Steps[name]; ok {
		return mt
	}
	mt := newDefaultMetric(concurrent)
	m.Steps[name] = mt

	return mt
}

func (m *DefaultMeasure) GetMetric(name string) Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Steps[name]
}

func (m *DefaultMeasure) AllMetrics() map[string]Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make(map[string]Metric, len(m.Steps))
	for name, mt := range m.Steps {
		res[name] = mt
	}

	return res
}

var _ Measure = (*DefaultMeasure)(nil)

// StageStat is the JSON friendly view of a Metric.
type StageStat struct {
	Name    string                   `json:"name"`
	Items   int64                    `json:"items"`
	AvgWork time.Duration            `json:"avg_work_ns"`
	AvgWait map[string]time.Duration `json:"avg_wait_ns,omitempty"`
	Total   time.Duration            `json:"total_ns,omitempty"`
}

// Snapshot returns the stats of every stage sorted by name.
func Snapshot(m Measure) []StageStat {
	all := m.AllMetrics()
	res := make([]StageStat, 0, len(all))
	for name, mt := range all {
		res = append(res, StageStat{
			Name:    name,
			Items:   mt.Count(),
			AvgWork: mt.AVGDuration(),
			AvgWait: mt.AVGTransportDuration(),
			Total:   mt.GetTotalDuration(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})

	return res
}
