// Command hil-safety measures the emergency stop latency and checks the overload
// interlocks. Without hardware it reports the run as skipped and exits 0.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/logger"
	"github.com/askiada/sonicator-hil/internal/report"
	"github.com/askiada/sonicator-hil/internal/safety"
)

const reportFile = "safety_report.json"

type safetyReport struct {
	Timestamp  time.Time          `json:"timestamp"`
	Skipped    bool               `json:"skipped"`
	Simulation bool               `json:"simulation"`
	Reason     string             `json:"reason,omitempty"`
	Stop       *safety.Result     `json:"emergency_stop,omitempty"`
	Interlocks []safety.Interlock `json:"interlocks,omitempty"`
	Passed     bool               `json:"passed"`
}

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	flag.Duration("budget", safety.DefaultBudget, "longest accepted emergency stop latency")
	common.Map("budget", "safety.budget")
	simulate := flag.Bool("simulate", false, "run against the simulated rig when no hardware is found")
	flag.Parse()

	settings, hw, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	rep := &safetyReport{Timestamp: time.Now().UTC()}
	out := cli.Output(settings, reportFile)

	rig, err := hil.Connect(ctx, settings, hw)
	switch {
	case errors.Is(err, hil.ErrNoHardware) && *simulate:
		rig = hil.Simulated(hw)
		rep.Simulation = true
	case errors.Is(err, hil.ErrNoHardware):
		rep.Skipped, rep.Passed, rep.Reason = true, true, err.Error()
		pterm.Warning.Println("skipped: " + err.Error())
		if werr := report.WriteJSON(out, rep); werr != nil {
			return cli.Fail(werr)
		}

		return cli.ExitOK
	case err != nil:
		return cli.Fail(err)
	}
	defer rig.Close()

	session, err := logger.New(settings.OutputDir, "safety")
	if err != nil {
		return cli.Fail(err)
	}
	defer session.Close()
	session.Infof("safety run, budget %s, simulated rig %t", settings.Safety.Budget, rep.Simulation)

	h := safety.New(hw, settings.Safety.Budget)
	stop, err := h.EmergencyStop(ctx, rig, "hil-safety")
	if err != nil {
		return cli.Fail(err)
	}
	rep.Stop = stop
	details := map[string]string{"latency": stop.Latency.String(), "budget": stop.Budget.String()}
	if stop.Passed {
		session.LogTest("emergency stop", logger.StatusPass, stop.Latency, details)
		pterm.Success.Printfln("emergency stop in %s (budget %s)", stop.Latency, stop.Budget)
	} else {
		details["error"] = stop.Error
		session.LogTest("emergency stop", logger.StatusFail, stop.Latency, details)
		session.Errorf("emergency stop failed: %s", stop.Error)
		pterm.Error.Printfln("emergency stop failed: %s", stop.Reason)
	}

	interlocks, ok, err := h.CheckInterlocks(ctx, rig)
	if err != nil {
		return cli.Fail(err)
	}
	rep.Interlocks = interlocks
	for _, il := range interlocks {
		status := logger.StatusPass
		switch {
		case il.Error != "":
			status = logger.StatusFail
			pterm.Error.Printfln("unit %d interlock %s unreadable: %s", il.Unit, il.Pin, il.Error)
		case il.Overload:
			status = logger.StatusFail
			pterm.Error.Printfln("unit %d overload active on %s", il.Unit, il.Pin)
		default:
			pterm.Success.Printfln("unit %d interlock clear", il.Unit)
		}
		session.LogTest(fmt.Sprintf("interlock unit %d", il.Unit), status, 0, nil)
	}

	rep.Passed = stop.Passed && ok
	err = report.WriteJSON(out, rep)
	if err != nil {
		return cli.Fail(err)
	}
	if !rep.Passed {
		return cli.ExitFailure
	}

	return cli.ExitOK
}
