// Command hil-program flashes and fuses the ATmega32A through an Arduino used
// as ISP.
//
//	hil-program [flags] install-isp <sketch dir>
//	hil-program [flags] signature
//	hil-program [flags] erase
//	hil-program [flags] fuses
//	hil-program [flags] flash <firmware.hex>
//	hil-program [flags] check <firmware.hex>
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/programmer"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	flag.String("isp-port", "", "serial port of the Arduino as ISP")
	flag.String("programmer", "stk500v1", "avrdude programmer id")
	flag.String("part", "m32", "avrdude part id")
	flag.Int("isp-baud", 19200, "programmer baud rate")
	common.Map("isp-port", "programmer.port")
	common.Map("programmer", "programmer.programmer")
	common.Map("part", "programmer.part")
	common.Map("isp-baud", "programmer.baud")
	fuses := flag.Bool("fuses", false, "also write the fuses after flash")
	flag.Parse()

	if flag.NArg() == 0 {
		return cli.Usage(flag.CommandLine, "an action is required: install-isp, signature, erase, fuses, flash or check")
	}
	settings, _, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	action, args := flag.Arg(0), flag.Args()[1:]
	needArg := action == "install-isp" || action == "flash" || action == "check"
	if needArg && len(args) != 1 {
		return cli.Usage(flag.CommandLine, action+" takes exactly one argument")
	}
	if action != "check" && settings.Programmer.Port == "" {
		return cli.Usage(flag.CommandLine, "-isp-port is required")
	}

	p := programmer.New(settings.Programmer)
	switch action {
	case "check":
		info, err := programmer.ValidateHexFile(args[0])
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Success.Printfln("%s: %d records, %d bytes", args[0], info.Records, info.DataBytes)
	case "install-isp":
		err = p.InstallISP(ctx, args[0])
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Success.Println("ArduinoISP installed on " + settings.Programmer.Port)
	case "signature":
		sig, err := p.ReadSignature(ctx)
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Success.Println("device signature 0x" + sig)
	case "erase":
		err = p.Erase(ctx)
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Success.Println("chip erased")
	case "fuses":
		err = p.WriteFuses(ctx)
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Success.Printfln("fuses written: lfuse %s hfuse %s", settings.Programmer.LFuse, settings.Programmer.HFuse)
	case "flash":
		_, err = p.ReadSignature(ctx)
		if err != nil {
			return cli.Fail(err)
		}
		info, err := p.Flash(ctx, args[0])
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Success.Printfln("flashed %d bytes", info.DataBytes)
		if *fuses {
			err = p.WriteFuses(ctx)
			if err != nil {
				return cli.Fail(err)
			}
			pterm.Success.Println("fuses written")
		}
	default:
		return cli.Usage(flag.CommandLine, "unknown action "+action)
	}

	return cli.ExitOK
}
