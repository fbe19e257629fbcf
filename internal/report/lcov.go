package report

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CoverageFile is the default name of the coverage summary.
const CoverageFile = "coverage-summary.json"

// Metric is a covered/total pair.
type Metric struct {
	Total   int     `json:"total"`
	Covered int     `json:"covered"`
	Percent float64 `json:"percent"`
}

func (m *Metric) add(total, covered int) {
	m.Total += total
	m.Covered += covered
	m.Percent = 100
	if m.Total > 0 {
		m.Percent = float64(m.Covered) * 100 / float64(m.Total)
	}
}

// FileCoverage is the coverage of one source file.
type FileCoverage struct {
	Path      string `json:"path"`
	Lines     Metric `json:"lines"`
	Functions Metric `json:"functions"`
	Branches  Metric `json:"branches"`
}

// CoverageSummary is written to coverage-summary.json.
type CoverageSummary struct {
	Timestamp time.Time      `json:"timestamp"`
	Lines     Metric         `json:"lines"`
	Functions Metric         `json:"functions"`
	Branches  Metric         `json:"branches"`
	Files     []FileCoverage `json:"files"`
}

type lcovRecord struct {
	path    string
	hasLF   bool
	hasFNF  bool
	hasBRF  bool
	lf      int
	lh      int
	fnf     int
	fnh     int
	brf     int
	brh     int
	daTotal int
	daHit   int
	fnTotal int
	fnHit   int
	brTotal int
	brHit   int
}

// ParseLCOV reads an lcov tracefile. Files without LF/FNF/BRF summary lines
// are counted from their DA, FNDA and BRDA records.
func ParseLCOV(r io.Reader) (*CoverageSummary, error) {
	res := &CoverageSummary{Files: []FileCoverage{}}
	var rec *lcovRecord

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "TN:") {
			continue
		}
		if line == "end_of_record" {
			if rec == nil {
				return nil, errors.Errorf("line %d: end_of_record without SF", lineNo)
			}
			res.addRecord(rec)
			rec = nil

			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Errorf("line %d: malformed %q", lineNo, line)
		}
		if key == "SF" {
			rec = &lcovRecord{path: value}

			continue
		}
		if rec == nil {
			return nil, errors.Errorf("line %d: %s outside of a record", lineNo, key)
		}
		err := rec.parse(key, value)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read lcov")
	}
	if rec != nil {
		res.addRecord(rec)
	}

	return res, nil
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}

	return n, nil
}

func (rec *lcovRecord) parse(key, value string) error {
	var err error
	switch key {
	case "LF":
		rec.hasLF = true
		rec.lf, err = atoi(key, value)
	case "LH":
		rec.lh, err = atoi(key, value)
	case "FNF":
		rec.hasFNF = true
		rec.fnf, err = atoi(key, value)
	case "FNH":
		rec.fnh, err = atoi(key, value)
	case "BRF":
		rec.hasBRF = true
		rec.brf, err = atoi(key, value)
	case "BRH":
		rec.brh, err = atoi(key, value)
	case "DA":
		// DA:<line>,<hits>[,<checksum>]
		parts := strings.Split(value, ",")
		if len(parts) < 2 {
			return errors.Errorf("invalid DA %q", value)
		}
		rec.daTotal++
		if parts[1] != "0" {
			rec.daHit++
		}
	case "FNDA":
		// FNDA:<hits>,<name>
		hits, _, _ := strings.Cut(value, ",")
		rec.fnTotal++
		if hits != "0" {
			rec.fnHit++
		}
	case "BRDA":
		// BRDA:<line>,<block>,<branch>,<taken|->
		parts := strings.Split(value, ",")
		if len(parts) != 4 {
			return errors.Errorf("invalid BRDA %q", value)
		}
		rec.brTotal++
		if parts[3] != "-" && parts[3] != "0" {
			rec.brHit++
		}
	}

	return err
}

func (res *CoverageSummary) addRecord(rec *lcovRecord) {
	fc := FileCoverage{Path: rec.path}
	if rec.hasLF {
		fc.Lines.add(rec.lf, rec.lh)
	} else {
		fc.Lines.add(rec.daTotal, rec.daHit)
	}
	if rec.hasFNF {
		fc.Functions.add(rec.fnf, rec.fnh)
	} else {
		fc.Functions.add(rec.fnTotal, rec.fnHit)
	}
	if rec.hasBRF {
		fc.Branches.add(rec.brf, rec.brh)
	} else {
		fc.Branches.add(rec.brTotal, rec.brHit)
	}

	res.Files = append(res.Files, fc)
	res.Lines.add(fc.Lines.Total, fc.Lines.Covered)
	res.Functions.add(fc.Functions.Total, fc.Functions.Covered)
	res.Branches.add(fc.Branches.Total, fc.Branches.Covered)
}

// ParseLCOVFile is ParseLCOV on the file at path.
func ParseLCOVFile(path string) (*CoverageSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	res, err := ParseLCOV(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return res, nil
}
