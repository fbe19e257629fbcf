package pipeline

import (
	"context"
	"time"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// AddSink adds a terminal stage calling sinkFn for every item. Sinks always run
// with a single worker so sinkFn may update shared state without locking.
func AddSink[I any](p *Pipeline, name string, input *model.Stage[I], sinkFn func(ctx context.Context, in I) error) error {
	if p == nil {
		return ErrPipelineMustBeSet
	}
	if input == nil {
		return ErrInputMustBeSet
	}

	info := newStageInfo(model.SinkKind, name)
	err := p.prepare(info, parentInfo(input))
	if err != nil {
		return err
	}

	p.spawn(name, func(ctx context.Context) error {
		for {
			start := time.Now()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case in, ok := <-input.Output:
				if !ok {
					return p.afterSink(info)
				}
				wait := time.Since(start)

				startFn := time.Now()
				err := sinkFn(ctx, in)
				if err != nil {
					return err
				}

				err = p.observe(input.Info, info, wait, time.Since(startFn))
				if err != nil {
					return err
				}
			}
		}
	}, nil)

	return nil
}

// Collect adds a sink appending every item to a slice. The slice is complete once
// Run returned without error.
func Collect[I any](p *Pipeline, name string, input *model.Stage[I]) (*[]I, error) {
	res := []I{}
	err := AddSink(p, name, input, func(_ context.Context, in I) error {
		res = append(res, in)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}
