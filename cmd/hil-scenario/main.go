// Command hil-scenario runs a YAML scenario file and writes scenario_results.json.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/logger"
	"github.com/askiada/sonicator-hil/internal/scenario"
)

const resultsFile = "scenario_results.json"

var sessionStatus = map[string]logger.Status{
	scenario.StatusPassed:  logger.StatusPass,
	scenario.StatusFailed:  logger.StatusFail,
	scenario.StatusSkipped: logger.StatusSkip,
}

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	file := flag.String("file", "", "scenario YAML file")
	tag := flag.String("tag", "", "only run scenarios with this tag")
	useHardware := flag.Bool("hardware", false, "send simulation steps to the detected wrapper instead of the simulator")
	flag.Parse()

	if *file == "" {
		return cli.Usage(flag.CommandLine, "-file is required")
	}
	settings, hw, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	f, err := scenario.Load(*file)
	if err != nil {
		return cli.Fail(err)
	}

	var rig *hil.Controller
	if *useHardware {
		rig, err = hil.ConnectOrSimulate(ctx, settings, hw)
		if err != nil {
			return cli.Fail(err)
		}
	} else {
		rig = hil.Simulated(hw)
	}
	defer rig.Close()
	if rig.Simulated() {
		pterm.Info.Println("simulation steps run against the simulated wrapper")
	}

	session, err := logger.New(settings.OutputDir, "scenario")
	if err != nil {
		return cli.Fail(err)
	}
	defer session.Close()
	session.Infof("running %s (tag %q, simulated wrapper %t)", *file, *tag, rig.Simulated())

	runner := scenario.NewRunner(rig.Transport(), filepath.Dir(*file))
	rep, err := runner.RunFile(ctx, f, *tag)
	if err != nil {
		return cli.Fail(err)
	}
	for _, res := range rep.Scenarios {
		session.LogTest(res.Name, sessionStatus[res.Status], res.Duration, nil)
		switch res.Status {
		case scenario.StatusPassed:
			pterm.Success.Println(res.Name)
		case scenario.StatusFailed:
			pterm.Error.Println(res.Name)
			for _, st := range res.Steps {
				if st.Error != "" {
					pterm.Error.Printfln("  %s: %s", st.Name, st.Error)
				}
			}
		default:
			pterm.Warning.Println(res.Name + " skipped")
		}
	}

	err = scenario.WriteJSON(cli.Output(settings, resultsFile), rep)
	if err != nil {
		return cli.Fail(err)
	}
	pterm.Info.Printfln("%d passed, %d failed, %d skipped", rep.Passed, rep.Failed, rep.Skipped)

	return rep.ExitCode()
}
