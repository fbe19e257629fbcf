package report

import (
	"encoding/xml"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// UnitTestsFile is the default name of the unit test summary.
const UnitTestsFile = "unit-test-summary.json"

type junitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure"`
	Error     *junitMessage `xml:"error"`
	Skipped   *junitMessage `xml:"skipped"`
}

// junitSuite also decodes a <testsuites> root, whose children are suites.
type junitSuite struct {
	XMLName  xml.Name
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     float64      `xml:"time,attr"`
	Cases    []junitCase  `xml:"testcase"`
	Suites   []junitSuite `xml:"testsuite"`
}

// SuiteSummary counts the tests of one JUnit suite.
type SuiteSummary struct {
	Name     string  `json:"name"`
	Tests    int     `json:"tests"`
	Failures int     `json:"failures"`
	Errors   int     `json:"errors"`
	Skipped  int     `json:"skipped"`
	Seconds  float64 `json:"time_seconds"`
}

// FailedTest is a failing or erroring test case.
type FailedTest struct {
	Suite   string `json:"suite"`
	Test    string `json:"test"`
	Message string `json:"message"`
}

// UnitTestSummary is written to unit-test-summary.json.
type UnitTestSummary struct {
	Timestamp   time.Time      `json:"timestamp"`
	Total       int            `json:"total"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
	Errors      int            `json:"errors"`
	Skipped     int            `json:"skipped"`
	Seconds     float64        `json:"time_seconds"`
	SuccessRate float64        `json:"success_rate"`
	Suites      []SuiteSummary `json:"suites"`
	Failures    []FailedTest   `json:"failures,omitempty"`
}

// OK reports whether no test failed or errored.
func (s *UnitTestSummary) OK() bool {
	return s.Failed == 0 && s.Errors == 0
}

// ParseJUnit reads a JUnit XML document with either a <testsuites> or a
// <testsuite> root. Suites listing test cases are counted from the cases,
// others from their attributes.
func ParseJUnit(r io.Reader) (*UnitTestSummary, error) {
	var root junitSuite
	err := xml.NewDecoder(r).Decode(&root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode junit xml")
	}

	res := &UnitTestSummary{Suites: []SuiteSummary{}}
	switch root.XMLName.Local {
	case "testsuites":
		for _, s := range root.Suites {
			res.add(s)
		}
	case "testsuite":
		res.add(root)
	default:
		return nil, errors.Errorf("unexpected junit root <%s>", root.XMLName.Local)
	}
	res.Passed = res.Total - res.Failed - res.Errors - res.Skipped
	if res.Total > 0 {
		res.SuccessRate = float64(res.Passed) * 100 / float64(res.Total)
	}

	return res, nil
}

func (res *UnitTestSummary) add(s junitSuite) {
	for _, nested := range s.Suites {
		res.add(nested)
	}
	if len(s.Suites) > 0 && len(s.Cases) == 0 {
		return
	}

	sum := SuiteSummary{Name: s.Name, Seconds: s.Time}
	if len(s.Cases) == 0 {
		sum.Tests, sum.Failures, sum.Errors, sum.Skipped = s.Tests, s.Failures, s.Errors, s.Skipped
	}
	for _, c := range s.Cases {
		sum.Tests++
		switch {
		case c.Failure != nil:
			sum.Failures++
			res.Failures = append(res.Failures, FailedTest{Suite: s.Name, Test: c.Name, Message: c.Failure.Message})
		case c.Error != nil:
			sum.Errors++
			res.Failures = append(res.Failures, FailedTest{Suite: s.Name, Test: c.Name, Message: c.Error.Message})
		case c.Skipped != nil:
			sum.Skipped++
		}
	}
	res.Suites = append(res.Suites, sum)
	res.Total += sum.Tests
	res.Failed += sum.Failures
	res.Errors += sum.Errors
	res.Skipped += sum.Skipped
	res.Seconds += sum.Seconds
}

// ParseJUnitFile is ParseJUnit on the file at path.
func ParseJUnitFile(path string) (*UnitTestSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	res, err := ParseJUnit(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return res, nil
}
