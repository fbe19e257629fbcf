package bench

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
)

// RenderTable writes the task stats of report as a table.
func RenderTable(w io.Writer, report *Report) error {
	data := pterm.TableData{{"Task", "Runs", "Fail", "Timeout", "Min", "Median", "Mean", "Max", "Peak RSS", "CPU %"}}
	for _, task := range report.Tasks {
		data = append(data, []string{
			task.Name,
			fmt.Sprint(task.Iterations),
			fmt.Sprint(task.Failures),
			fmt.Sprint(task.Timeouts),
			task.Min.Round(time.Millisecond).String(),
			task.Median.Round(time.Millisecond).String(),
			task.Mean.Round(time.Millisecond).String(),
			task.Max.Round(time.Millisecond).String(),
			fmt.Sprintf("%.1f MiB", float64(task.PeakRSS)/(1<<20)),
			fmt.Sprintf("%.1f", task.MeanCPU),
		})
	}

	err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
	if err != nil {
		return errors.Wrap(err, "unable to render benchmark table")
	}

	return nil
}

// RenderMemory writes the memory report as a table.
func RenderMemory(w io.Writer, m *MemoryReport) error {
	data := pterm.TableData{
		{"Memory", "Used", "Total", "%"},
		{"Flash", fmt.Sprint(m.Flash.Used), fmt.Sprint(m.Flash.Total), fmt.Sprintf("%.1f", m.Flash.Percent)},
		{"SRAM", fmt.Sprint(m.SRAM.Used), fmt.Sprint(m.SRAM.Total), fmt.Sprintf("%.1f", m.SRAM.Percent)},
	}
	err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
	if err != nil {
		return errors.Wrap(err, "unable to render memory table")
	}

	return nil
}
