package model

import "time"

// Hook observes a pipeline while it is built and while it runs.
type Hook interface {
	// Init runs once when the pipeline is created.
	Init() error
	// Prepare runs when a stage is added, with the stages it reads from.
	Prepare(stage *StageInfo, parents ...*StageInfo) error
	// Observe runs every time a stage emits or consumes an item. wait is the time spent
	// blocked on the parent, work the time spent in the stage function.
	Observe(parent, stage *StageInfo, wait, work time.Duration) error
	// AfterSink runs when a sink has drained its input.
	AfterSink(stage *StageInfo, total time.Duration) error
	// Finish runs after the whole pipeline succeeded.
	Finish() error
}
