package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/sonicator-hil/internal/bench"
	"github.com/askiada/sonicator-hil/internal/detect"
)

// ExecutiveFile is the default name of the executive report.
const ExecutiveFile = "executive-report.json"

// Section and overall statuses.
const (
	StatusPass    = "pass"
	StatusWarn    = "warn"
	StatusFail    = "fail"
	StatusMissing = "missing"
)

// DefaultMinCoverage is the line coverage percentage under which coverage warns.
const DefaultMinCoverage = 80.0

// Section is one input of the executive report.
type Section struct {
	Name    string      `json:"name"`
	File    string      `json:"file"`
	Status  string      `json:"status"`
	Summary string      `json:"summary"`
	Details interface{} `json:"details,omitempty"`
}

// ExecutiveReport is written to executive-report.json.
type ExecutiveReport struct {
	Timestamp  time.Time `json:"timestamp"`
	Overall    string    `json:"overall"`
	Simulation bool      `json:"simulation"`
	Sections   []Section `json:"sections"`
}

// Options locates the artifacts. Empty file names fall back to the default
// names inside Dir.
type Options struct {
	Dir           string
	Detection     string
	Performance   string
	Memory        string
	UnitTests     string
	Coverage      string
	BDD           string
	MinCoverage   float64
	FailOnMissing bool
}

type section struct {
	name, file string
	eval       func(path string, s *Section, rep *ExecutiveReport) error
}

func pick(dir, file, def string) string {
	if file != "" {
		return file
	}

	return filepath.Join(dir, def)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "unable to read %s", path)
	}
	err = json.Unmarshal(data, v)
	if err != nil {
		return errors.Wrapf(err, "unable to decode %s", path)
	}

	return nil
}

// Executive loads every artifact concurrently and aggregates them. A missing
// artifact is reported as missing, and fails the report only when
// FailOnMissing is set. An unreadable one fails its section.
func Executive(ctx context.Context, opts Options) (*ExecutiveReport, error) {
	if opts.MinCoverage == 0 {
		opts.MinCoverage = DefaultMinCoverage
	}
	sections := []section{
		{"hardware detection", pick(opts.Dir, opts.Detection, detect.ResultFile), evalDetection},
		{"performance", pick(opts.Dir, opts.Performance, bench.ReportFile), evalPerformance},
		{"memory", pick(opts.Dir, opts.Memory, bench.MemoryFile), evalMemory},
		{"unit tests", pick(opts.Dir, opts.UnitTests, UnitTestsFile), evalUnitTests},
		{"coverage", pick(opts.Dir, opts.Coverage, CoverageFile), coverageEvaluator(opts.MinCoverage)},
		{"acceptance tests", pick(opts.Dir, opts.BDD, BDDFile), evalBDD},
	}

	rep := &ExecutiveReport{Timestamp: time.Now().UTC(), Sections: make([]Section, len(sections))}
	simulation := make([]bool, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	for i, sec := range sections {
		i, sec := i, sec
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			s := Section{Name: sec.name, File: sec.file}
			_, err := os.Stat(sec.file)
			switch {
			case errors.Is(err, os.ErrNotExist):
				s.Status, s.Summary = StatusMissing, "not produced"
			case err != nil:
				s.Status, s.Summary = StatusFail, err.Error()
			default:
				local := &ExecutiveReport{}
				err = sec.eval(sec.file, &s, local)
				if err != nil {
					glog.Warningf("%s: %v", sec.name, err)
					s.Status, s.Summary = StatusFail, err.Error()
				}
				simulation[i] = local.Simulation
			}
			rep.Sections[i] = s

			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return nil, err
	}

	rep.Overall = StatusPass
	for i, s := range rep.Sections {
		rep.Simulation = rep.Simulation || simulation[i]
		switch {
		case s.Status == StatusFail, s.Status == StatusMissing && opts.FailOnMissing:
			rep.Overall = StatusFail
		case s.Status == StatusWarn && rep.Overall == StatusPass:
			rep.Overall = StatusWarn
		}
	}

	return rep, nil
}

func evalDetection(path string, s *Section, rep *ExecutiveReport) error {
	var res detect.Result
	err := readJSON(path, &res)
	if err != nil {
		return err
	}
	s.Details = res
	rep.Simulation = res.Simulation
	switch {
	case res.CommunicationOK:
		s.Status, s.Summary = StatusPass, fmt.Sprintf("%s on %s", res.SelectedDevice, res.SelectedPort)
	default:
		s.Status, s.Summary = StatusWarn, "simulation: "+res.Reason
	}

	return nil
}

func evalPerformance(path string, s *Section, _ *ExecutiveReport) error {
	var res bench.Report
	err := readJSON(path, &res)
	if err != nil {
		return err
	}
	failed := 0
	for _, t := range res.Tasks {
		if !t.Passed() {
			failed++
		}
	}
	s.Details = res.Tasks
	s.Status = StatusPass
	if !res.Passed {
		s.Status = StatusFail
	}
	s.Summary = fmt.Sprintf("%d tasks, %d failing, %s", len(res.Tasks), failed, res.Duration)

	return nil
}

func evalMemory(path string, s *Section, _ *ExecutiveReport) error {
	var res bench.MemoryReport
	err := readJSON(path, &res)
	if err != nil {
		return err
	}
	s.Details = res
	switch res.Status {
	case bench.MemoryOK:
		s.Status = StatusPass
	case bench.MemoryWarning:
		s.Status = StatusWarn
	default:
		s.Status = StatusFail
	}
	s.Summary = fmt.Sprintf("flash %.1f%%, sram %.1f%%", res.Flash.Percent, res.SRAM.Percent)

	return nil
}

func evalUnitTests(path string, s *Section, _ *ExecutiveReport) error {
	var res UnitTestSummary
	err := readJSON(path, &res)
	if err != nil {
		return err
	}
	s.Details = res.Failures
	s.Status = StatusPass
	if !res.OK() {
		s.Status = StatusFail
	}
	s.Summary = fmt.Sprintf("%d/%d passed, %d failed, %d errors, %d skipped", res.Passed, res.Total, res.Failed, res.Errors, res.Skipped)

	return nil
}

func coverageEvaluator(minimum float64) func(string, *Section, *ExecutiveReport) error {
	return func(path string, s *Section, _ *ExecutiveReport) error {
		var res CoverageSummary
		err := readJSON(path, &res)
		if err != nil {
			return err
		}
		s.Details = map[string]Metric{"lines": res.Lines, "functions": res.Functions, "branches": res.Branches}
		s.Status = StatusPass
		if res.Lines.Percent < minimum {
			s.Status = StatusWarn
		}
		s.Summary = fmt.Sprintf("lines %.1f%% (minimum %.1f%%), functions %.1f%%, branches %.1f%%",
			res.Lines.Percent, minimum, res.Functions.Percent, res.Branches.Percent)

		return nil
	}
}

func evalBDD(path string, s *Section, _ *ExecutiveReport) error {
	var res BDDSummary
	err := readJSON(path, &res)
	if err != nil {
		return err
	}
	s.Details = res.Scenarios
	s.Status = StatusPass
	if res.Failed > 0 {
		s.Status = StatusFail
	}
	s.Summary = fmt.Sprintf("%d scenarios, %d passed, %d failed, %d skipped", res.Total, res.Passed, res.Failed, res.Skipped)

	return nil
}

// WriteJSON writes v indented to path, creating its directory.
func WriteJSON(path string, v interface{}) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", filepath.Dir(path))
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode report")
	}
	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to write %s", path)
	}

	return nil
}

// Render prints the report as a table followed by the overall status.
func Render(w io.Writer, rep *ExecutiveReport) error {
	data := pterm.TableData{{"Section", "Status", "Summary"}}
	for _, s := range rep.Sections {
		data = append(data, []string{s.Name, s.Status, s.Summary})
	}
	err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
	if err != nil {
		return errors.Wrap(err, "unable to render report")
	}

	msg := "overall: " + rep.Overall
	if rep.Simulation {
		msg += " (simulation)"
	}
	switch rep.Overall {
	case StatusPass:
		pterm.Success.WithWriter(w).Println(msg)
	case StatusWarn:
		pterm.Warning.WithWriter(w).Println(msg)
	default:
		pterm.Error.WithWriter(w).Println(msg)
	}

	return nil
}
