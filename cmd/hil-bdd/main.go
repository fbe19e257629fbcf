// Command hil-bdd runs the Gherkin acceptance features against the rig, or the
// simulated rig, and summarises the scenarios into bdd-results.json.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/cucumber/godog"
	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/detect"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/logger"
	"github.com/askiada/sonicator-hil/internal/report"
	"github.com/askiada/sonicator-hil/internal/steps"
)

const cucumberFile = "cucumber.json"

var sessionStatus = map[string]logger.Status{
	report.ScenarioPassed:  logger.StatusPass,
	report.ScenarioFailed:  logger.StatusFail,
	report.ScenarioSkipped: logger.StatusSkip,
}

func main() {
	os.Exit(run())
}

// hardwarePort returns the wrapper port when real hardware is present.
func hardwarePort(ctx context.Context, settings *config.Settings, hw *config.HardwareConfig) string {
	if settings.Simulation.Force || detect.SimulationRequested() {
		return ""
	}
	if settings.Serial.Port != "" {
		return settings.Serial.Port
	}
	res, err := detect.New(hw.Signatures, nil).Detect(ctx)
	if err != nil {
		glog.Warningf("hardware detection failed: %v", err)

		return ""
	}

	return res.SelectedPort
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	features := flag.String("features", "features", "feature files directory")
	tags := flag.String("tags", "", "godog tag expression, e.g. @gpio && ~@slow")
	format := flag.String("format", "pretty", "godog console format")
	simulation := flag.Bool("simulation", false, "run @hardware scenarios against the simulated rig when no hardware is found")
	strict := flag.Bool("strict", true, "fail on pending or undefined steps")
	flag.Parse()

	settings, hw, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	port := hardwarePort(ctx, settings, hw)
	suite := &steps.Suite{
		Hardware:   port != "",
		Simulation: *simulation || settings.Simulation.Force || detect.SimulationRequested(),
		Budget:     settings.Safety.Budget,
	}
	if suite.Hardware {
		settings.Serial.Port = port
		pterm.Info.Println("running against the hardware on " + port)
		suite.Connect = func(ctx context.Context) (*hil.Controller, error) {
			return hil.Connect(ctx, settings, hw)
		}
	} else {
		if suite.Simulation {
			pterm.Info.Println("no hardware, @hardware scenarios run against the simulated rig")
		} else {
			pterm.Warning.Println("no hardware, @hardware scenarios are skipped")
		}
		suite.Connect = func(context.Context) (*hil.Controller, error) {
			return hil.Simulated(hw), nil
		}
	}

	err = os.MkdirAll(settings.OutputDir, 0o755)
	if err != nil {
		return cli.Fail(err)
	}
	rawPath := cli.Output(settings, cucumberFile)
	status := godog.TestSuite{
		Name:                "multi-sonicator-hil",
		ScenarioInitializer: suite.InitializeScenario,
		Options: &godog.Options{
			Format:         *format + ",cucumber:" + rawPath,
			Paths:          []string{*features},
			Tags:           *tags,
			Strict:         *strict,
			Output:         os.Stdout,
			DefaultContext: ctx,
		},
	}.Run()

	sum, err := report.ParseCucumberFile(rawPath)
	if err != nil {
		return cli.Fail(err)
	}
	session, err := logger.New(settings.OutputDir, "bdd")
	if err != nil {
		return cli.Fail(err)
	}
	for _, sc := range sum.Scenarios {
		session.LogTest(sc.Feature+": "+sc.Name, sessionStatus[sc.Status], 0, nil)
	}
	err = session.Close()
	if err != nil {
		return cli.Fail(err)
	}
	err = report.WriteJSON(cli.Output(settings, report.BDDFile), sum)
	if err != nil {
		return cli.Fail(err)
	}
	pterm.Info.Printfln("%d scenarios: %d passed, %d failed, %d skipped", sum.Total, sum.Passed, sum.Failed, sum.Skipped)

	if status != 0 {
		return cli.ExitFailure
	}

	return cli.ExitOK
}
