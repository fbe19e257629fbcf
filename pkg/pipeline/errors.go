package pipeline

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPipelineMustBeSet = errors.New("pipeline must be set")
	ErrInputMustBeSet    = errors.New("input must be set")
	ErrFanOutTotal       = errors.New("fan out total must be greater than 0")
	ErrFanInEmpty        = errors.New("fan in needs at least one input")
)

// stageResult is the outcome of one spawned goroutine: at most one error, then
// done is closed.
type stageResult struct {
	stage string
	done  chan error
}

// registry tracks the results of every spawned goroutine.
type registry struct {
	mu      sync.Mutex
	results []*stageResult
}

func (r *registry) register(stage string) *stageResult {
	res := &stageResult{stage: stage, done: make(chan error, 1)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)

	return res
}

func (r *registry) all() []*stageResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*stageResult(nil), r.results...)
}

// collectErrors forwards every stage error, wrapped with its stage name, and
// closes the returned channel once all results are done. The channel can hold
// one error per result so a caller leaving early never blocks a forwarder.
func collectErrors(results ...*stageResult) <-chan error {
	out := make(chan error, len(results))
	var wg sync.WaitGroup
	wg.Add(len(results))
	for _, res := range results {
		go func(res *stageResult) {
			defer wg.Done()
			if res.done == nil {
				return
			}
			for err := range res.done {
				out <- errors.Wrap(err, res.stage)
			}
		}(res)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// firstError waits for every result and returns the first error received.
func firstError(results ...*stageResult) error {
	for err := range collectErrors(results...) {
		if err != nil {
			return err
		}
	}

	return nil
}
