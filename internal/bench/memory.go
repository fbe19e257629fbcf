package bench

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ATmega32A memory sizes in bytes.
const (
	FlashSize = 32768
	SRAMSize  = 2048
)

// Usage thresholds in percent.
const (
	WarnPercent     = 80.0
	CriticalPercent = 95.0
)

// Memory report statuses.
const (
	MemoryOK       = "ok"
	MemoryWarning  = "warning"
	MemoryCritical = "critical"
)

// Region is the usage of one memory.
type Region struct {
	Used    int     `json:"used_bytes"`
	Total   int     `json:"total_bytes"`
	Percent float64 `json:"percent"`
}

func newRegion(used, total int) Region {
	return Region{Used: used, Total: total, Percent: float64(used) * 100 / float64(total)}
}

// MemoryReport is written to memory_report.json.
type MemoryReport struct {
	Text     int      `json:"text"`
	Data     int      `json:"data"`
	BSS      int      `json:"bss"`
	Flash    Region   `json:"flash"`
	SRAM     Region   `json:"sram"`
	Status   string   `json:"status"`
	Warnings []string `json:"warnings,omitempty"`
}

var (
	berkeleyHeader = regexp.MustCompile(`^\s*text\s+data\s+bss\s+dec\s+hex`)
	avrProgram     = regexp.MustCompile(`^Program:\s+(\d+)\s+bytes`)
	avrData        = regexp.MustCompile(`^Data:\s+(\d+)\s+bytes`)
)

// ParseMemoryReport reads avr-size output, either the default berkeley format or
// the --format=avr one, and checks it against the ATmega32A memories.
func ParseMemoryReport(r io.Reader) (*MemoryReport, error) {
	report := &MemoryReport{}
	scanner := bufio.NewScanner(r)
	header := false
	found := false
	program, data := -1, -1
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case berkeleyHeader.MatchString(line):
			header = true
		case header && !found:
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			values := make([]int, 3)
			for i := range values {
				v, err := strconv.Atoi(fields[i])
				if err != nil {
					return nil, errors.Wrapf(err, "invalid size line %q", line)
				}
				values[i] = v
			}
			report.Text, report.Data, report.BSS = values[0], values[1], values[2]
			found = true
		default:
			if m := avrProgram.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				program, _ = strconv.Atoi(m[1])
			}
			if m := avrData.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				data, _ = strconv.Atoi(m[1])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read size output")
	}

	switch {
	case found:
		report.Flash = newRegion(report.Text+report.Data, FlashSize)
		report.SRAM = newRegion(report.Data+report.BSS, SRAMSize)
	case program >= 0 && data >= 0:
		report.Flash = newRegion(program, FlashSize)
		report.SRAM = newRegion(data, SRAMSize)
	default:
		return nil, errors.New("no size information found")
	}
	report.evaluate()

	return report, nil
}

func (m *MemoryReport) evaluate() {
	m.Status = MemoryOK
	for _, region := range []struct {
		name string
		r    Region
	}{{"flash", m.Flash}, {"sram", m.SRAM}} {
		switch {
		case region.r.Percent >= CriticalPercent:
			m.Status = MemoryCritical
			m.Warnings = append(m.Warnings, fmt.Sprintf("%s usage %.1f%% exceeds %.0f%%", region.name, region.r.Percent, CriticalPercent))
		case region.r.Percent >= WarnPercent:
			if m.Status == MemoryOK {
				m.Status = MemoryWarning
			}
			m.Warnings = append(m.Warnings, fmt.Sprintf("%s usage %.1f%% exceeds %.0f%%", region.name, region.r.Percent, WarnPercent))
		}
	}
}
