package report

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// BDDFile is the default name of the acceptance suite results.
const BDDFile = "bdd-results.json"

// Scenario statuses.
const (
	ScenarioPassed  = "passed"
	ScenarioFailed  = "failed"
	ScenarioSkipped = "skipped"
)

// ScenarioResult is the outcome of one executed scenario.
type ScenarioResult struct {
	Feature string `json:"feature"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// BDDSummary counts scenario outcomes.
type BDDSummary struct {
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

type cukeFeature struct {
	URI      string        `json:"uri"`
	Name     string        `json:"name"`
	Elements []cukeElement `json:"elements"`
}

type cukeElement struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Steps []struct {
		Result struct {
			Status string `json:"status"`
			Error  string `json:"error_message"`
		} `json:"result"`
	} `json:"steps"`
}

// scenarioStatus: any step neither passed nor skipped fails the scenario,
// skipped steps alone skip it.
func scenarioStatus(el cukeElement) (string, string) {
	status, msg := ScenarioPassed, ""
	for _, st := range el.Steps {
		switch st.Result.Status {
		case "passed":
		case "skipped":
			if status == ScenarioPassed {
				status = ScenarioSkipped
			}
		default:
			if status != ScenarioFailed {
				msg = st.Result.Error
				if msg == "" {
					msg = "step " + st.Result.Status
				}
			}
			status = ScenarioFailed
		}
	}

	return status, msg
}

// ParseCucumber reads the JSON written by the godog cucumber formatter.
func ParseCucumber(r io.Reader) (*BDDSummary, error) {
	var features []cukeFeature
	err := json.NewDecoder(r).Decode(&features)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "unable to decode cucumber json")
	}

	res := &BDDSummary{Scenarios: []ScenarioResult{}}
	for _, f := range features {
		for _, el := range f.Elements {
			if el.Type != "scenario" {
				continue
			}
			status, msg := scenarioStatus(el)
			res.Scenarios = append(res.Scenarios, ScenarioResult{Feature: f.URI, Name: el.Name, Status: status, Error: msg})
			res.Total++
			switch status {
			case ScenarioPassed:
				res.Passed++
			case ScenarioFailed:
				res.Failed++
			default:
				res.Skipped++
			}
		}
	}

	return res, nil
}

// ParseCucumberFile is ParseCucumber on the file at path.
func ParseCucumberFile(path string) (*BDDSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	res, err := ParseCucumber(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return res, nil
}
