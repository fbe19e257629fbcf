// Command hil-sandbox opens an interactive console on the test wrapper.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/sandbox"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	simulate := flag.Bool("simulate", false, "use the simulated rig when no hardware is found")
	flag.Parse()

	settings, hw, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	rig, err := hil.Connect(ctx, settings, hw)
	switch {
	case errors.Is(err, hil.ErrNoHardware) && *simulate:
		pterm.Warning.Println("no hardware, using the simulated rig")
		rig = hil.Simulated(hw)
	case errors.Is(err, hil.ErrNoHardware):
		pterm.Warning.Println(err.Error() + ", rerun with -simulate to use the simulated rig")

		return cli.ExitSkipped
	case err != nil:
		return cli.Fail(err)
	}
	defer rig.Close()

	err = sandbox.New(rig, os.Stdout).Run(ctx, os.Stdin)
	if err != nil && !errors.Is(err, ctx.Err()) {
		return cli.Fail(err)
	}

	return cli.ExitOK
}
