package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// Pipeline is a set of connected stages.
type Pipeline struct {
	ctx       context.Context
	cancel    context.CancelFunc
	results   *registry
	hooks     []model.Hook
	startTime time.Time
	goFn      []func(ctx context.Context)
}

// New creates a new pipeline bound to ctx.
func New(ctx context.Context, hooks ...model.Hook) (*Pipeline, error) {
	dCtx, cancel := context.WithCancel(ctx)
	pipe := &Pipeline{
		ctx:       dCtx,
		cancel:    cancel,
		results:   &registry{},
		hooks:     hooks,
		startTime: time.Now(),
	}

	for _, hook := range hooks {
		err := hook.Init()
		if err != nil {
			cancel()

			return nil, errors.Wrap(err, "unable to initialise pipeline hook")
		}
	}

	return pipe, nil
}

// Run starts every stage and waits for the pipeline to drain.
// It returns the first stage error.
func (p *Pipeline) Run() error {
	defer p.cancel()

	for _, fn := range p.goFn {
		go fn(p.ctx)
	}

	err := firstError(p.results.all()...)
	if err != nil {
		return err
	}

	for _, hook := range p.hooks {
		err := hook.Finish()
		if err != nil {
			return errors.Wrap(err, "unable to finish pipeline hook")
		}
	}

	return nil
}

// Elapsed returns the time since the pipeline was created.
func (p *Pipeline) Elapsed() time.Duration {
	return time.Since(p.startTime)
}

func (p *Pipeline) prepare(stage *model.StageInfo, parents ...*model.StageInfo) error {
	for _, hook := range p.hooks {
		err := hook.Prepare(stage, parents...)
		if err != nil {
			return errors.Wrapf(err, "unable to prepare stage %s", stage.Name)
		}
	}

	return nil
}

func (p *Pipeline) observe(parent, stage *model.StageInfo, wait, work time.Duration) error {
	for _, hook := range p.hooks {
		err := hook.Observe(parent, stage, wait, work)
		if err != nil {
			return errors.Wrapf(err, "unable to observe stage %s", stage.Name)
		}
	}

	return nil
}

func (p *Pipeline) afterSink(stage *model.StageInfo) error {
	total := time.Since(p.startTime)
	for _, hook := range p.hooks {
		err := hook.AfterSink(stage, total)
		if err != nil {
			return errors.Wrapf(err, "unable to finish sink %s", stage.Name)
		}
	}

	return nil
}

// spawn registers fn to run when the pipeline starts. Its error, if any, is reported
// under name.
func (p *Pipeline) spawn(name string, fn func(ctx context.Context) error, onExit func()) {
	res := p.results.register(name)
	p.goFn = append(p.goFn, func(ctx context.Context) {
		defer func() {
			if onExit != nil {
				onExit()
			}
			close(res.done)
		}()

		err := fn(ctx)
		if err != nil {
			res.done <- err
		}
	})
}
