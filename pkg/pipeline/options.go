package pipeline

import "github.com/askiada/sonicator-hil/pkg/pipeline/model"

// StageOption configures a stage.
type StageOption func(info *model.StageInfo)

// StageConcurrency sets how many workers run the stage function.
func StageConcurrency(concurrent int) StageOption {
	return func(info *model.StageInfo) {
		info.Concurrent = concurrent
	}
}

// StageBuffer sets the capacity of the stage output channel, or of each branch
// buffer for a fan out.
func StageBuffer(size int) StageOption {
	return func(info *model.StageInfo) {
		info.BufferSize = size
	}
}

func newStageInfo(kind model.StageKind, name string, opts ...StageOption) *model.StageInfo {
	info := &model.StageInfo{
		Kind:       kind,
		Name:       name,
		Concurrent: 1,
	}
	for _, opt := range opts {
		opt(info)
	}
	if info.Concurrent < 1 {
		info.Concurrent = 1
	}

	return info
}

// parentInfo returns the description of a stage used as input. Stages built outside
// the pipeline, such as a channel wrapped by the caller, hang off model.Start.
func parentInfo[I any](input *model.Stage[I]) *model.StageInfo {
	if input.Info == nil {
		input.Info = model.Start
	}

	return input.Info
}
