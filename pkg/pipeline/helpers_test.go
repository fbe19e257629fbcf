package pipeline_test

import (
	"context"
	"testing"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

func inputStage(t *testing.T, total int) *model.Stage[int] {
	t.Helper()

	inputChan := make(chan int)

	go func() {
		defer close(inputChan)

		for i := 0; i < total; i++ {
			inputChan <- i
		}
	}()

	return &model.Stage[int]{Output: inputChan}
}

func inputStageWithCancel(t *testing.T, total int, offset int, cancel context.CancelFunc) *model.Stage[int] {
	t.Helper()

	inputChan := make(chan int)

	go func() {
		defer close(inputChan)

		for i := 0; i < total; i++ {
			if i == offset {
				cancel()
			}

			inputChan <- i
		}
	}()

	return &model.Stage[int]{Output: inputChan}
}

func drain[O any](t *testing.T, output <-chan O) <-chan []O {
	t.Helper()

	done := make(chan []O, 1)

	go func() {
		res := []O{}
		for out := range output {
			res = append(res, out)
		}
		done <- res
	}()

	return done
}
