package model

// StageKind tells hooks how a stage is wired into the pipeline.
type StageKind string

const (
	SourceKind StageKind = "source"
	MapKind    StageKind = "stage"
	ExpandKind StageKind = "expand"
	FanOutKind StageKind = "fanout"
	FanInKind  StageKind = "fanin"
	SinkKind   StageKind = "sink"
)

// StageInfo describes a stage independently of the type it carries.
type StageInfo struct {
	Kind       StageKind
	Name       string
	Concurrent int
	BufferSize int
}

// Start and End are virtual stages framing every pipeline. Sources hang off
// Start and sinks feed End.
var (
	Start = &StageInfo{Name: "start"}
	End   = &StageInfo{Name: "end"}
)

// Stage is a typed handle on the output of a stage.
type Stage[O any] struct {
	Output chan O
	Info   *StageInfo
}
