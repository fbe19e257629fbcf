package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

var (
	errProbe = errors.New("port busy")
	errWalk  = errors.New("permission denied")
)

func TestRegistryConcurrentRegister(t *testing.T) {
	t.Parallel()

	reg := &registry{}
	var wg sync.WaitGroup
	for _, name := range []string{"probe", "walk", "scrape", "collect"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			reg.register(name)
		}(name)
	}
	wg.Wait()

	names := []string{}
	for _, res := range reg.all() {
		names = append(names, res.stage)
		assert.Equal(t, 1, cap(res.done))
	}
	assert.ElementsMatch(t, []string{"probe", "walk", "scrape", "collect"}, names)
}

func TestCollectErrors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		errs []error
		want []error
	}{
		"no result":   {},
		"all succeed": {errs: []error{nil, nil}},
		"one fails":   {errs: []error{nil, errProbe}, want: []error{errProbe}},
		"both fail":   {errs: []error{errWalk, errProbe}, want: []error{errWalk, errProbe}},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reg := &registry{}
			for i, err := range tc.errs {
				res := reg.register([]string{"walk", "probe"}[i])
				if err != nil {
					res.done <- err
				}
				close(res.done)
			}

			got := []error{}
			for err := range collectErrors(reg.all()...) {
				got = append(got, err)
			}
			require.Len(t, got, len(tc.want))
			for _, want := range tc.want {
				found := false
				for _, err := range got {
					found = found || errors.Is(err, want)
				}
				assert.True(t, found, want)
			}
		})
	}
}

func TestCollectErrorsNamesStage(t *testing.T) {
	t.Parallel()

	res := &stageResult{stage: "probe /dev/ttyUSB0", done: make(chan error, 1)}
	res.done <- errProbe
	close(res.done)

	err := firstError(res, &stageResult{stage: "idle"})
	require.ErrorIs(t, err, errProbe)
	assert.Equal(t, "probe /dev/ttyUSB0: port busy", err.Error())
}

func TestFirstErrorReturnsEarly(t *testing.T) {
	t.Parallel()

	failing := &stageResult{stage: "execute", done: make(chan error, 1)}
	stuck := &stageResult{stage: "sink", done: make(chan error)}
	failing.done <- errWalk
	close(failing.done)

	require.ErrorIs(t, firstError(failing, stuck), errWalk)
	close(stuck.done)
}

func TestNewStageInfoClampsConcurrency(t *testing.T) {
	t.Parallel()

	info := newStageInfo(model.MapKind, "probe", StageConcurrency(0), StageBuffer(4))
	assert.Equal(t, &model.StageInfo{Kind: model.MapKind, Name: "probe", Concurrent: 1, BufferSize: 4}, info)
}

func TestParentInfoDefaultsToStart(t *testing.T) {
	t.Parallel()

	stage := &model.Stage[int]{Output: make(chan int)}
	assert.Same(t, model.Start, parentInfo(stage))
	assert.Same(t, model.Start, stage.Info)
}
