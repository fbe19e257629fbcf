package steps_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/steps"
)

func TestFeaturesSimulated(t *testing.T) {
	suite := &steps.Suite{
		Connect: func(context.Context) (*hil.Controller, error) {
			return hil.Simulated(nil), nil
		},
		Simulation: true,
		Budget:     100 * time.Millisecond,
	}
	var out bytes.Buffer
	status := godog.TestSuite{
		Name:                "hil",
		ScenarioInitializer: suite.InitializeScenario,
		Options: &godog.Options{
			Format:   "progress",
			Paths:    []string{"../../features"},
			Output:   &out,
			NoColors: true,
			Strict:   true,
			TestingT: t,
		},
	}.Run()
	assert.Equal(t, 0, status, out.String())
}

const hardwareOnly = `@hardware
Feature: needs the rig
  Scenario: talks to the wrapper
    Given the HIL hardware is connected
    Then pin D7 should be LOW
`

func TestHardwareScenariosSkipped(t *testing.T) {
	t.Parallel()

	suite := &steps.Suite{
		Connect: func(context.Context) (*hil.Controller, error) {
			return nil, errors.New("must not connect")
		},
	}
	var out bytes.Buffer
	status := godog.TestSuite{
		Name:                "skip",
		ScenarioInitializer: suite.InitializeScenario,
		Options: &godog.Options{
			Format:          "progress",
			Output:          &out,
			NoColors:        true,
			Strict:          true,
			FeatureContents: []godog.Feature{{Name: "rig.feature", Contents: []byte(hardwareOnly)}},
		},
	}.Run()
	assert.Equal(t, 0, status, out.String())
	assert.Regexp(t, `\d+ skipped`, out.String())
}

func TestHardwareUnavailableFails(t *testing.T) {
	t.Parallel()

	suite := &steps.Suite{
		Connect: func(context.Context) (*hil.Controller, error) {
			return nil, hil.ErrNoHardware
		},
		Hardware: true,
	}
	var out bytes.Buffer
	status := godog.TestSuite{
		Name:                "fail",
		ScenarioInitializer: suite.InitializeScenario,
		Options: &godog.Options{
			Format:          "progress",
			Output:          &out,
			NoColors:        true,
			FeatureContents: []godog.Feature{{Name: "rig.feature", Contents: []byte(hardwareOnly)}},
		},
	}.Run()
	assert.Equal(t, 1, status, out.String())
}
