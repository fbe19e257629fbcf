// Command hil-emulator exposes the behavioural firmware model on a
// pseudo-terminal so MODBUS masters can be tested without the target.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/emulator"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	flag.Uint("slave", 2, "MODBUS slave id")
	common.Map("slave", "modbus.slave")
	poll := flag.Duration("poll", emulator.DefaultPollInterval, "bridge poll interval")
	link := flag.String("link", "", "create a symlink to the pty at this path")
	flag.Parse()

	settings, hw, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	core := emulator.NewBehavioral(hw, settings.Modbus.SlaveID)
	bridge, err := emulator.NewPTYBridge(core, *poll)
	if err != nil {
		return cli.Fail(err)
	}
	defer bridge.Close()

	if *link != "" {
		_ = os.Remove(*link)
		err = os.Symlink(bridge.Path(), *link)
		if err != nil {
			return cli.Fail(errors.Wrap(err, "unable to link pty"))
		}
		defer os.Remove(*link)
	}
	pterm.Success.Printfln("emulated controller (slave %d) on %s", settings.Modbus.SlaveID, bridge.Path())

	<-ctx.Done()
	pterm.Info.Printfln("stopping after %s of emulated time", core.Elapsed().Round(time.Millisecond))

	return cli.ExitOK
}
