package pipeline

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// FanOut copies every item of its input to each of its branches.
type FanOut[I any] struct {
	mu       sync.Mutex
	currIdx  int
	branches []*model.Stage[I]
	Total    int
}

// Next returns the next unclaimed branch.
func (f *FanOut[I]) Next() (*model.Stage[I], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.currIdx >= len(f.branches) {
		return nil, false
	}
	branch := f.branches[f.currIdx]
	f.currIdx++

	return branch, true
}

// Branch returns branch i.
func (f *FanOut[I]) Branch(i int) *model.Stage[I] {
	return f.branches[i]
}

// AddFanOut duplicates input into total branches. Each branch is buffered
// (StageBuffer, default 1) so a slow branch only stalls the others once its buffer
// is full. Every branch must be consumed.
func AddFanOut[I any](p *Pipeline, name string, input *model.Stage[I], total int, opts ...StageOption) (*FanOut[I], error) {
	if p == nil {
		return nil, ErrPipelineMustBeSet
	}
	if input == nil {
		return nil, ErrInputMustBeSet
	}
	if total <= 0 {
		return nil, ErrFanOutTotal
	}

	info := newStageInfo(model.FanOutKind, name, opts...)
	if info.BufferSize == 0 {
		info.BufferSize = 1
	}
	err := p.prepare(info, parentInfo(input))
	if err != nil {
		return nil, errors.Wrap(err, "unable to prepare fan out")
	}

	fan := &FanOut[I]{Total: total, branches: make([]*model.Stage[I], total)}
	buffers := make([]chan I, total)
	for i := range buffers {
		buffers[i] = make(chan I, info.BufferSize)
		fan.branches[i] = &model.Stage[I]{
			Output: make(chan I),
			Info:   info,
		}
	}

	for i, buf := range buffers {
		localBuf := buf
		branch := fan.branches[i]
		p.spawn(name, func(ctx context.Context) error {
			for elem := range localBuf {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case branch.Output <- elem:
				}
			}

			return nil
		}, func() { close(branch.Output) })
	}

	p.spawn(name, func(ctx context.Context) error {
		defer func() {
			for _, buf := range buffers {
				close(buf)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case elem, ok := <-input.Output:
				if !ok {
					return nil
				}
				for _, buf := range buffers {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case buf <- elem:
					}
				}
			}
		}
	}, nil)

	return fan, nil
}
