// Command hil-bench runs a benchmark suite and, given avr-size output, checks
// the firmware memory usage.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/bench"
	"github.com/askiada/sonicator-hil/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	suitePath := flag.String("suite", "", "benchmark suite YAML")
	sizeFile := flag.String("size-file", "", "avr-size output of the firmware ELF")
	dotFile := flag.String("dot", "", "write the benchmark pipeline graph to this DOT file")
	runLog := flag.String("runlog", "", "write one JSON line per iteration to this file")
	flag.Parse()

	if *suitePath == "" && *sizeFile == "" {
		return cli.Usage(flag.CommandLine, "one of -suite or -size-file is required")
	}
	settings, _, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	code := cli.ExitOK
	if *suitePath != "" {
		suite, err := bench.LoadSuite(*suitePath)
		if err != nil {
			return cli.Fail(err)
		}
		opts := bench.Options{DOTFile: *dotFile}
		if *runLog != "" {
			f, err := os.Create(*runLog)
			if err != nil {
				return cli.Fail(errors.Wrap(err, "unable to create run log"))
			}
			defer f.Close()
			opts.RunLog = f
		}

		pterm.Info.Printfln("running %s (%d tasks)", suite.Name, len(suite.Tasks))
		report, err := bench.Execute(ctx, suite, opts)
		if err != nil {
			return cli.Fail(err)
		}
		err = bench.WriteJSON(cli.Output(settings, bench.ReportFile), report)
		if err != nil {
			return cli.Fail(err)
		}
		err = bench.RenderTable(os.Stdout, report)
		if err != nil {
			return cli.Fail(err)
		}
		if report.Passed {
			pterm.Success.Printfln("benchmark passed in %s", report.Duration)
		} else {
			pterm.Error.Println("benchmark had failing iterations")
			code = cli.ExitFailure
		}
	}

	if *sizeFile != "" {
		f, err := os.Open(*sizeFile)
		if err != nil {
			return cli.Fail(errors.Wrap(err, "unable to open size file"))
		}
		defer f.Close()
		mem, err := bench.ParseMemoryReport(f)
		if err != nil {
			return cli.Fail(err)
		}
		err = bench.WriteJSON(cli.Output(settings, bench.MemoryFile), mem)
		if err != nil {
			return cli.Fail(err)
		}
		err = bench.RenderMemory(os.Stdout, mem)
		if err != nil {
			return cli.Fail(err)
		}
		for _, w := range mem.Warnings {
			pterm.Warning.Println(w)
		}
		if mem.Status == bench.MemoryCritical {
			code = cli.ExitFailure
		}
	}

	return code
}
