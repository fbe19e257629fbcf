// Command hil-adapter answers JSON-line requests from the web UI backend on
// stdin and stdout. Diagnostics go to stderr.
//
//	hil-adapter -mode hardware    ping, get_pins, read_pin, write_pin, update_pin, ...
//	hil-adapter -mode automation  list_features, get_scenarios, execute, stop
package main

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/askiada/sonicator-hil/internal/adapter"
	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/steps"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	mode := flag.String("mode", "hardware", "hardware or automation")
	features := flag.String("features", "features", "feature files directory")
	flag.Parse()

	settings, hw, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	var h adapter.Handler
	switch *mode {
	case "hardware":
		rig, err := hil.ConnectOrSimulate(ctx, settings, hw)
		if err != nil {
			return cli.Fail(err)
		}
		defer rig.Close()
		h = &adapter.HardwareHandler{HW: rig, Config: hw}
	case "automation":
		h = &adapter.AutomationHandler{
			FeaturesDir: *features,
			Suite: &steps.Suite{
				Simulation: true,
				Budget:     settings.Safety.Budget,
				Connect: func(ctx context.Context) (*hil.Controller, error) {
					return hil.ConnectOrSimulate(ctx, settings, hw)
				},
			},
		}
	default:
		return cli.Usage(flag.CommandLine, "unknown mode "+*mode)
	}

	err = adapter.Serve(ctx, os.Stdin, os.Stdout, h)
	if err != nil {
		return cli.Fail(err)
	}

	return cli.ExitOK
}
