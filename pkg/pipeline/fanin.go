package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// AddFanIn merges the outputs of several stages into one. Ordering between inputs
// is not preserved.
func AddFanIn[I any](p *Pipeline, name string, inputs ...*model.Stage[I]) (*model.Stage[I], error) {
	if p == nil {
		return nil, ErrPipelineMustBeSet
	}
	if len(inputs) == 0 {
		return nil, ErrFanInEmpty
	}

	parents := make([]*model.StageInfo, len(inputs))
	for i, input := range inputs {
		if input == nil {
			return nil, ErrInputMustBeSet
		}
		parents[i] = parentInfo(input)
	}

	info := newStageInfo(model.FanInKind, name)
	err := p.prepare(info, parents...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to prepare fan in")
	}

	output := make(chan I)
	stage := &model.Stage[I]{Output: output, Info: info}

	wgrp := &sync.WaitGroup{}
	wgrp.Add(len(inputs))
	done := func() {
		wgrp.Done()
	}
	go func() {
		wgrp.Wait()
		close(output)
	}()

	for _, input := range inputs {
		localInput := input
		p.spawn(name, func(ctx context.Context) error {
			return forward(ctx, p, localInput, stage)
		}, done)
	}

	return stage, nil
}

func forward[I any](ctx context.Context, p *Pipeline, input, output *model.Stage[I]) error {
	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-input.Output:
			if !ok {
				return nil
			}
			wait := time.Since(start)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case output.Output <- entry:
			}

			err := p.observe(input.Info, output.Info, wait, 0)
			if err != nil {
				return err
			}
		}
	}
}
