package measure

import (
	"time"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

type pipelineMeasure struct {
	Measure
}

// Hook returns a pipeline hook feeding m.
func Hook(m Measure) model.Hook {
	return &pipelineMeasure{m}
}

func (pm *pipelineMeasure) Init() error {
	pm.AddMetric(model.Start.Name, 1)
	pm.AddMetric(model.End.Name, 1)

	return nil
}

func (pm *pipelineMeasure) Prepare(stage *model.StageInfo, _ ...*model.StageInfo) error {
	pm.AddMetric(stage.Name, stage.Concurrent)

	return nil
}

func (pm *pipelineMeasure) Observe(parent, stage *model.StageInfo, wait, work time.Duration) error {
	mt := pm.GetMetric(stage.Name)
	if mt == nil {
		mt = pm.AddMetric(stage.Name, stage.Concurrent)
	}
	mt.AddDuration(work)
	mt.AddTransportDuration(parent.Name, wait)

	return nil
}

func (pm *pipelineMeasure) AfterSink(stage *model.StageInfo, total time.Duration) error {
	pm.GetMetric(stage.Name).SetTotalDuration(total)

	end := pm.GetMetric(model.End.Name)
	if total > end.GetTotalDuration() {
		end.SetTotalDuration(total)
	}

	return nil
}

func (pm *pipelineMeasure) Finish() error {
	return nil
}
