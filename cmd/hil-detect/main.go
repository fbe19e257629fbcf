// Command hil-detect looks for the Arduino test wrapper on the serial ports and
// records whether the CI run must fall back to simulation.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/detect"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	noProbe := flag.Bool("no-probe", false, "match USB signatures only, do not ping the wrapper")
	envFile := flag.String("env-file", os.Getenv("GITHUB_ENV"), "append HIL_SIMULATION=<bool> to this file")
	flag.Parse()

	settings, hw, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	var probe detect.Prober
	if !*noProbe {
		probe = detect.WrapperProbe(settings.Serial.Baud, settings.Serial.Timeout)
	}
	d := detect.New(hw.Signatures, probe)
	d.ForceSimulation = settings.Simulation.Force

	spinner, _ := pterm.DefaultSpinner.Start("detecting HIL hardware")
	res, err := d.Detect(ctx)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return cli.Fail(err)
	}

	err = detect.WriteJSON(cli.Output(settings, detect.ResultFile), res)
	if err != nil {
		return cli.Fail(err)
	}
	if *envFile != "" {
		err = detect.ExportSimulationFlag(*envFile, res)
		if err != nil {
			return cli.Fail(err)
		}
	}

	if res.Simulation {
		pterm.Warning.Println("simulation mode: " + res.Reason)

		return cli.ExitOK
	}
	pterm.Success.Printfln("%s on %s (%s)", res.SelectedDevice, res.SelectedPort, res.Reason)

	return cli.ExitOK
}
