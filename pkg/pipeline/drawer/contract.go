// Package drawer renders the stage graph of a pipeline in Graphviz DOT format.
// When a measure is attached, edges are coloured from blue (short wait) to red
// (long wait) and the end vertex is labelled with the total run time.
package drawer

import (
	"time"

	"github.com/askiada/sonicator-hil/pkg/pipeline/measure"
)

// Drawer is an interface that defines the methods for drawing a pipeline.
type Drawer interface {
	// AddStage adds a vertex for a stage.
	AddStage(name string) error
	// AddLink adds an edge between a parent and a child stage.
	AddLink(parentName, childName string) error
	// SetTotalTime labels a stage with the time elapsed since startTime.
	SetTotalTime(stageName string, startTime time.Time) error
	// AddMeasure colours edges with the average wait of each link.
	AddMeasure(msr measure.Measure) error
	// Draw writes the graph.
	Draw() error
}
