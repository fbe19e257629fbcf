package pipeline

import (
	"context"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// AddSource adds a stage that produces items. sourceFn owns nothing: the output
// channel is closed by the pipeline once sourceFn returns.
func AddSource[O any](p *Pipeline, name string, sourceFn func(ctx context.Context, out chan<- O) error, opts ...StageOption) (*model.Stage[O], error) {
	if p == nil {
		return nil, ErrPipelineMustBeSet
	}

	info := newStageInfo(model.SourceKind, name, opts...)
	err := p.prepare(info, model.Start)
	if err != nil {
		return nil, err
	}

	output := make(chan O, info.BufferSize)
	stage := &model.Stage[O]{Output: output, Info: info}

	p.spawn(name, func(ctx context.Context) error {
		return sourceFn(ctx, output)
	}, func() { close(output) })

	return stage, nil
}

// AddSliceSource emits every element of items in order.
func AddSliceSource[O any](p *Pipeline, name string, items []O, opts ...StageOption) (*model.Stage[O], error) {
	return AddSource(p, name, func(ctx context.Context, out chan<- O) error {
		for _, item := range items {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- item:
			}
		}

		return nil
	}, opts...)
}
