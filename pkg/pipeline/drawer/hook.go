package drawer

import (
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/pkg/pipeline/measure"
	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

type pipelineDrawer struct {
	Drawer
	m         measure.Measure
	startTime time.Time
}

// Hook returns a pipeline hook building the graph with drawer and drawing it once
// the pipeline succeeded. msr may be nil.
func Hook(drawer Drawer, msr measure.Measure) model.Hook {
	return &pipelineDrawer{Drawer: drawer, m: msr, startTime: time.Now()}
}

func (pd *pipelineDrawer) Init() error {
	err := pd.AddStage(model.Start.Name)
	if err != nil {
		return errors.Wrap(err, "unable to add start stage to drawer")
	}
	err = pd.AddStage(model.End.Name)
	if err != nil {
		return errors.Wrap(err, "unable to add end stage to drawer")
	}

	return nil
}

func (pd *pipelineDrawer) Prepare(stage *model.StageInfo, parents ...*model.StageInfo) error {
	err := pd.AddStage(stage.Name)
	if err != nil {
		return err
	}
	for _, parent := range parents {
		err := pd.AddLink(parent.Name, stage.Name)
		if err != nil {
			return err
		}
	}
	if stage.Kind == model.SinkKind {
		return pd.AddLink(stage.Name, model.End.Name)
	}

	return nil
}

func (pd *pipelineDrawer) Observe(_, _ *model.StageInfo, _, _ time.Duration) error {
	return nil
}

func (pd *pipelineDrawer) AfterSink(_ *model.StageInfo, _ time.Duration) error {
	return nil
}

func (pd *pipelineDrawer) Finish() error {
	if pd.m != nil {
		err := pd.SetTotalTime(model.End.Name, pd.startTime)
		if err != nil {
			return errors.Wrap(err, "unable to set total time")
		}
		err = pd.AddMeasure(pd.m)
		if err != nil {
			return errors.Wrap(err, "unable to add measure")
		}
	}

	err := pd.Draw()
	if err != nil {
		return errors.Wrap(err, "unable to draw pipeline")
	}

	return nil
}
