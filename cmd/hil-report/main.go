// Command hil-report converts CI artifacts into the published JSON summaries.
//
//	hil-report [flags] junit <results.xml>
//	hil-report [flags] coverage <lcov.info>
//	hil-report [flags] executive
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/report"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	minCoverage := flag.Float64("min-coverage", report.DefaultMinCoverage, "line coverage percentage under which coverage warns")
	failOnMissing := flag.Bool("fail-on-missing", false, "fail the executive report when an artifact is missing")
	flag.Parse()

	if flag.NArg() == 0 {
		return cli.Usage(flag.CommandLine, "an action is required: junit, coverage or executive")
	}
	settings, _, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	action, args := flag.Arg(0), flag.Args()[1:]
	if (action == "junit" || action == "coverage") && len(args) != 1 {
		return cli.Usage(flag.CommandLine, action+" takes exactly one input file")
	}

	switch action {
	case "junit":
		sum, err := report.ParseJUnitFile(args[0])
		if err != nil {
			return cli.Fail(err)
		}
		err = report.WriteJSON(cli.Output(settings, report.UnitTestsFile), sum)
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Info.Printfln("%d tests: %d passed, %d failed, %d errors, %d skipped",
			sum.Total, sum.Passed, sum.Failed, sum.Errors, sum.Skipped)
		if !sum.OK() {
			return cli.ExitFailure
		}
	case "coverage":
		sum, err := report.ParseLCOVFile(args[0])
		if err != nil {
			return cli.Fail(err)
		}
		err = report.WriteJSON(cli.Output(settings, report.CoverageFile), sum)
		if err != nil {
			return cli.Fail(err)
		}
		pterm.Info.Printfln("lines %.1f%%, functions %.1f%%, branches %.1f%%",
			sum.Lines.Percent, sum.Functions.Percent, sum.Branches.Percent)
	case "executive":
		rep, err := report.Executive(ctx, report.Options{
			Dir:           settings.OutputDir,
			MinCoverage:   *minCoverage,
			FailOnMissing: *failOnMissing,
		})
		if err != nil {
			return cli.Fail(err)
		}
		err = report.WriteJSON(cli.Output(settings, report.ExecutiveFile), rep)
		if err != nil {
			return cli.Fail(err)
		}
		err = report.Render(os.Stdout, rep)
		if err != nil {
			return cli.Fail(err)
		}
		if rep.Overall == report.StatusFail {
			return cli.ExitFailure
		}
	default:
		return cli.Usage(flag.CommandLine, "unknown action "+action)
	}

	return cli.ExitOK
}
