package adapter

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	"github.com/cucumber/godog"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/report"
	"github.com/askiada/sonicator-hil/internal/steps"
)

// FeatureInfo summarises a feature file.
type FeatureInfo struct {
	Path      string   `json:"path"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
	Scenarios int      `json:"scenarios"`
}

// ScenarioInfo describes a scenario of a feature file.
type ScenarioInfo struct {
	Feature string   `json:"feature"`
	Name    string   `json:"name"`
	Keyword string   `json:"keyword"`
	Line    int64    `json:"line"`
	Tags    []string `json:"tags"`
	Steps   []string `json:"steps"`
}

// ExecuteResult is the answer to execute.
type ExecuteResult struct {
	ExitCode int `json:"exit_code"`
	report.BDDSummary
}

type executeParams struct {
	Features []string `json:"features"`
	Tags     string   `json:"tags"`
}

type scenariosParams struct {
	Feature string `json:"feature"`
}

// AutomationHandler lists, parses and runs the acceptance features.
type AutomationHandler struct {
	FeaturesDir string
	Suite       *steps.Suite
}

func (a *AutomationHandler) Handle(ctx context.Context, req Request) (interface{}, error) {
	switch req.Command {
	case "list_features":
		return a.ListFeatures()
	case "get_scenarios":
		var p scenariosParams
		err := req.Decode(&p)
		if err != nil {
			return nil, err
		}

		return a.Scenarios(p.Feature)
	case "execute":
		var p executeParams
		err := req.Decode(&p)
		if err != nil {
			return nil, err
		}

		return a.Execute(ctx, p.Features, p.Tags)
	case "stop":
		return nil, ErrStop
	default:
		return nil, errors.Wrap(ErrUnknownCommand, req.Command)
	}
}

func (a *AutomationHandler) featureFiles() ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(a.FeaturesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".feature") {
			rel, err := filepath.Rel(a.FeaturesDir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list %s", a.FeaturesDir)
	}
	sort.Strings(files)

	return files, nil
}

// ParseFeature parses the Gherkin file at path.
func ParseFeature(path string) (*messages.Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	doc, err := gherkin.ParseGherkinDocument(f, (&messages.Incrementing{}).NewId)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse %s", path)
	}
	if doc.Feature == nil {
		return nil, errors.Errorf("%s has no feature", path)
	}

	return doc.Feature, nil
}

func tagNames(tags []*messages.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}

	return names
}

func scenariosOf(feature *messages.Feature) []*messages.Scenario {
	res := []*messages.Scenario{}
	for _, child := range feature.Children {
		switch {
		case child.Scenario != nil:
			res = append(res, child.Scenario)
		case child.Rule != nil:
			for _, rc := range child.Rule.Children {
				if rc.Scenario != nil {
					res = append(res, rc.Scenario)
				}
			}
		}
	}

	return res
}

// ListFeatures summarises every feature file under FeaturesDir.
func (a *AutomationHandler) ListFeatures() ([]FeatureInfo, error) {
	files, err := a.featureFiles()
	if err != nil {
		return nil, err
	}
	res := make([]FeatureInfo, 0, len(files))
	for _, rel := range files {
		feature, err := ParseFeature(filepath.Join(a.FeaturesDir, rel))
		if err != nil {
			return nil, err
		}
		res = append(res, FeatureInfo{
			Path:      rel,
			Name:      feature.Name,
			Tags:      tagNames(feature.Tags),
			Scenarios: len(scenariosOf(feature)),
		})
	}

	return res, nil
}

// featurePath resolves a client supplied feature path inside FeaturesDir.
func (a *AutomationHandler) featurePath(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrBadParams, "feature %q is outside the features directory", rel)
	}

	return filepath.Join(a.FeaturesDir, clean), nil
}

// Scenarios lists the scenarios of one feature file, or of all when feature is
// empty. Scenario tags include the feature tags.
func (a *AutomationHandler) Scenarios(feature string) ([]ScenarioInfo, error) {
	files := []string{feature}
	if feature == "" {
		var err error
		files, err = a.featureFiles()
		if err != nil {
			return nil, err
		}
	}
	res := []ScenarioInfo{}
	for _, rel := range files {
		path, err := a.featurePath(rel)
		if err != nil {
			return nil, err
		}
		f, err := ParseFeature(path)
		if err != nil {
			return nil, err
		}
		for _, sc := range scenariosOf(f) {
			info := ScenarioInfo{
				Feature: rel,
				Name:    sc.Name,
				Keyword: sc.Keyword,
				Tags:    append(tagNames(f.Tags), tagNames(sc.Tags)...),
				Steps:   make([]string, 0, len(sc.Steps)),
			}
			if sc.Location != nil {
				info.Line = sc.Location.Line
			}
			for _, st := range sc.Steps {
				info.Steps = append(info.Steps, strings.TrimSpace(st.Keyword)+" "+st.Text)
			}
			res = append(res, info)
		}
	}

	return res, nil
}

// Execute runs the selected features, all when none are given, with the godog
// suite in process.
func (a *AutomationHandler) Execute(ctx context.Context, features []string, tags string) (*ExecuteResult, error) {
	paths := []string{a.FeaturesDir}
	if len(features) > 0 {
		paths = paths[:0]
		for _, f := range features {
			path, err := a.featurePath(f)
			if err != nil {
				return nil, err
			}
			paths = append(paths, path)
		}
	}

	var out bytes.Buffer
	code := godog.TestSuite{
		Name:                "hil",
		ScenarioInitializer: a.Suite.InitializeScenario,
		Options: &godog.Options{
			Format:         "cucumber",
			Paths:          paths,
			Tags:           tags,
			Output:         &out,
			NoColors:       true,
			DefaultContext: ctx,
		},
	}.Run()

	sum, err := report.ParseCucumber(&out)
	if err != nil {
		return nil, err
	}

	return &ExecuteResult{ExitCode: code, BDDSummary: *sum}, nil
}
