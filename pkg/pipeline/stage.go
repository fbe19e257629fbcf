package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// worker consumes input until it is closed, calling fn for every item. emit forwards
// the produced values.
func worker[I, O any](ctx context.Context, p *Pipeline, goIdx int, input *model.Stage[I], output *model.Stage[O], fn func(context.Context, I) ([]O, error)) error {
	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "worker %d", goIdx)
		case in, ok := <-input.Output:
			if !ok {
				return nil
			}
			wait := time.Since(start)

			startFn := time.Now()
			outs, err := fn(ctx, in)
			if err != nil {
				return errors.Wrapf(err, "worker %d", goIdx)
			}
			work := time.Since(startFn)

			err = p.observe(input.Info, output.Info, wait, work)
			if err != nil {
				return err
			}

			for _, out := range outs {
				// check the context again so that workers stop feeding a cancelled pipeline
				select {
				case <-ctx.Done():
					return errors.Wrapf(ctx.Err(), "worker %d", goIdx)
				case output.Output <- out:
				}
			}
		}
	}
}

func runWorkers[I, O any](ctx context.Context, p *Pipeline, input *model.Stage[I], output *model.Stage[O], fn func(context.Context, I) ([]O, error)) error {
	concurrent := output.Info.Concurrent
	if concurrent == 1 {
		return worker(ctx, p, 0, input, output, fn)
	}

	errGrp, dCtx := errgroup.WithContext(ctx)
	errGrp.SetLimit(concurrent)
	for goIdx := 0; goIdx < concurrent; goIdx++ {
		localGoIdx := goIdx
		errGrp.Go(func() error {
			return worker(dCtx, p, localGoIdx, input, output, fn)
		})
	}

	return errGrp.Wait()
}

func addStage[I, O any](p *Pipeline, kind model.StageKind, name string, input *model.Stage[I], fn func(context.Context, I) ([]O, error), opts ...StageOption) (*model.Stage[O], error) {
	if p == nil {
		return nil, ErrPipelineMustBeSet
	}
	if input == nil {
		return nil, ErrInputMustBeSet
	}

	info := newStageInfo(kind, name, opts...)
	err := p.prepare(info, parentInfo(input))
	if err != nil {
		return nil, err
	}

	output := make(chan O, info.BufferSize)
	stage := &model.Stage[O]{Output: output, Info: info}

	p.spawn(name, func(ctx context.Context) error {
		return runWorkers(ctx, p, input, stage, fn)
	}, func() { close(output) })

	return stage, nil
}

// AddStage adds a stage producing exactly one output per input.
func AddStage[I, O any](p *Pipeline, name string, input *model.Stage[I], fn func(context.Context, I) (O, error), opts ...StageOption) (*model.Stage[O], error) {
	return addStage(p, model.MapKind, name, input, func(ctx context.Context, in I) ([]O, error) {
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		return []O{out}, nil
	}, opts...)
}

// AddExpand adds a stage producing any number of outputs per input, including none.
func AddExpand[I, O any](p *Pipeline, name string, input *model.Stage[I], fn func(context.Context, I) ([]O, error), opts ...StageOption) (*model.Stage[O], error) {
	return addStage(p, model.ExpandKind, name, input, fn, opts...)
}
