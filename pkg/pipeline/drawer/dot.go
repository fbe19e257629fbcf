package drawer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1"

	"github.com/askiada/sonicator-hil/internal/store"
	"github.com/askiada/sonicator-hil/pkg/pipeline/measure"
)

// DOTDrawer writes the stage graph to a DOT file.
type DOTDrawer struct {
	graph    graph.Graph[string, string]
	store    *store.MemoryStore[string, string]
	fileName string
	out      io.Writer
}

// NewDOTDrawer creates a drawer writing to fileName on Draw.
func NewDOTDrawer(fileName string) *DOTDrawer {
	st := store.NewMemoryStore[string, string]()

	return &DOTDrawer{
		fileName: fileName,
		store:    st,
		graph:    graph.NewWithStore(graph.StringHash, graph.Store[string, string](st), graph.Directed()),
	}
}

// NewDOTWriter creates a drawer writing to w on Draw.
func NewDOTWriter(w io.Writer) *DOTDrawer {
	d := NewDOTDrawer("")
	d.out = w

	return d
}

// AddStage adds a stage to the graph. Adding a stage twice is not an error.
func (d *DOTDrawer) AddStage(name string) error {
	err := d.graph.AddVertex(name)
	if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return errors.Wrapf(err, "unable to add vertex %s", name)
	}

	return nil
}

// AddLink adds a link between parent and child stages.
func (d *DOTDrawer) AddLink(parentName, childName string) error {
	err := d.graph.AddEdge(parentName, childName)
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return errors.Wrapf(err, "unable to add edge from %s to %s", parentName, childName)
	}

	return nil
}

// SetTotalTime labels stageName with the time since startTime.
func (d *DOTDrawer) SetTotalTime(stageName string, startTime time.Time) error {
	err := d.store.UpdateVertex(stageName, graph.VertexAttribute("xlabel", time.Since(startTime).Round(time.Millisecond).String()))
	if err != nil {
		return errors.Wrapf(err, "unable to label vertex %s", stageName)
	}

	return nil
}

const maxRGB = 240

// AddMeasure colours every measured edge.
func (d *DOTDrawer) AddMeasure(msr measure.Measure) error {
	waits := make(map[[2]string]time.Duration)
	var minWait, maxWait time.Duration
	first := true

	for stageName, mt := range msr.AllMetrics() {
		for parentName, wait := range mt.AVGTransportDuration() {
			if _, err := d.graph.Edge(parentName, stageName); err != nil {
				continue
			}
			waits[[2]string{parentName, stageName}] = wait
			if first || wait < minWait {
				minWait = wait
			}
			if first || wait > maxWait {
				maxWait = wait
			}
			first = false
		}
	}

	for link, wait := range waits {
		fraction := 1.0
		if maxWait > minWait {
			fraction = float64(wait-minWait) / float64(maxWait-minWait)
		}
		red := uint8(maxRGB * fraction)
		blue := uint8(maxRGB - maxRGB*fraction)

		colour, err := colors.RGB(red, 0, blue)
		if err != nil {
			return errors.Wrap(err, "unable to get colour")
		}

		err = d.graph.UpdateEdge(link[0], link[1],
			graph.EdgeAttribute("color", colour.ToHEX().String()),
			graph.EdgeAttribute("label", wait.String()),
		)
		if err != nil {
			return errors.Wrapf(err, "unable to update edge from %s to %s", link[0], link[1])
		}
	}

	return nil
}

// Draw writes the DOT description of the graph.
func (d *DOTDrawer) Draw() error {
	if d.out != nil {
		return dot(d.graph, d.out)
	}

	file, err := os.Create(d.fileName)
	if err != nil {
		return errors.Wrapf(err, "unable to create file %s", d.fileName)
	}
	defer file.Close()

	err = dot(d.graph, file)
	if err != nil {
		return errors.Wrapf(err, "unable to write dot file %s", d.fileName)
	}

	return nil
}

var _ Drawer = (*DOTDrawer)(nil)

const dotTemplate = `strict {{.GraphType}} {
{{range $k, $v := .Attributes}}	{{$k}}="{{$v}}";
{{end}}{{range $s := .Statements}}	"{{.Source}}" {{if .Target}}{{$.EdgeOperator}} "{{.Target}}" [ {{range $k, $v := .EdgeAttributes}}{{$k}}="{{$v}}", {{end}}weight={{.EdgeWeight}} ]{{else}}[ {{range $k, $v := .SourceAttributes}}{{$k}}="{{$v}}", {{end}}weight={{.SourceWeight}} ]{{end}};
{{end}}}
`

type description struct {
	GraphType    string
	Attributes   map[string]string
	EdgeOperator string
	Statements   []statement
}

type statement struct {
	Source           interface{}
	Target           interface{}
	SourceWeight     int
	SourceAttributes map[string]string
	EdgeWeight       int
	EdgeAttributes   map[string]string
}

func dot[K comparable, T any](g graph.Graph[K, T], w io.Writer) error {
	desc, err := generateDOT(g)
	if err != nil {
		return fmt.Errorf("failed to generate DOT description: %w", err)
	}

	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return tpl.Execute(w, desc)
}

func generateDOT[K comparable, T any](g graph.Graph[K, T]) (description, error) {
	desc := description{
		GraphType:    "graph",
		Attributes:   map[string]string{"rankdir": "LR"},
		EdgeOperator: "--",
		Statements:   make([]statement, 0),
	}

	if g.Traits().IsDirected {
		desc.GraphType = "digraph"
		desc.EdgeOperator = "->"
	}

	adjacencyMap, err := g.AdjacencyMap()
	if err != nil {
		return desc, err
	}

	// vertices and targets are sorted for stable output
	vertices := make([]K, 0, len(adjacencyMap))
	for vertex := range adjacencyMap {
		vertices = append(vertices, vertex)
	}
	sort.Slice(vertices, func(i, j int) bool {
		return fmt.Sprint(vertices[i]) < fmt.Sprint(vertices[j])
	})

	for _, vertex := range vertices {
		_, sourceProperties, err := g.VertexWithProperties(vertex)
		if err != nil {
			return desc, err
		}
		desc.Statements = append(desc.Statements, statement{
			Source:           vertex,
			SourceWeight:     sourceProperties.Weight,
			SourceAttributes: sourceProperties.Attributes,
		})

		targets := make([]K, 0, len(adjacencyMap[vertex]))
		for target := range adjacencyMap[vertex] {
			targets = append(targets, target)
		}
		sort.Slice(targets, func(i, j int) bool {
			return fmt.Sprint(targets[i]) < fmt.Sprint(targets[j])
		})
		for _, target := range targets {
			edge := adjacencyMap[vertex][target]
			desc.Statements = append(desc.Statements, statement{
				Source:         vertex,
				Target:         target,
				EdgeWeight:     edge.Properties.Weight,
				EdgeAttributes: edge.Properties.Attributes,
			})
		}
	}

	return desc, nil
}
