package adapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/adapter"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/report"
	"github.com/askiada/sonicator-hil/internal/steps"
)

func serve(t *testing.T, h adapter.Handler, lines ...string) []adapter.Response {
	t.Helper()

	var out bytes.Buffer
	err := adapter.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, h)
	require.NoError(t, err)

	res := []adapter.Response{}
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r adapter.Response
		require.NoError(t, dec.Decode(&r))
		res = append(res, r)
	}

	return res
}

func TestServeMalformedAndUnknown(t *testing.T) {
	t.Parallel()

	echo := adapter.HandlerFunc(func(_ context.Context, req adapter.Request) (interface{}, error) {
		if req.Command == "echo" {
			return "hi", nil
		}

		return nil, adapter.ErrUnknownCommand
	})
	res := serve(t, echo, `not json`, `{"id":"1"}`, `{"id":"2","command":"nope"}`, `{"id":"3","command":"echo"}`)
	require.Len(t, res, 4)
	assert.Equal(t, adapter.StatusError, res[0].Status)
	assert.Contains(t, res[0].Error, "malformed")
	assert.Equal(t, "missing command", res[1].Error)
	assert.Equal(t, "2", res[2].ID)
	assert.Equal(t, adapter.StatusError, res[2].Status)
	assert.Equal(t, adapter.StatusOK, res[3].Status)
	assert.Equal(t, "hi", res[3].Data)
}

func TestServeStop(t *testing.T) {
	t.Parallel()

	rig := hil.Simulated(nil)
	defer rig.Close()
	h := &adapter.HardwareHandler{HW: rig}

	res := serve(t, h, `{"command":"ping"}`, `{"command":"stop"}`, `{"command":"ping"}`)
	require.Len(t, res, 2)
	assert.Equal(t, adapter.StatusOK, res[0].Status)
	assert.Equal(t, adapter.StatusOK, res[1].Status)
}

func TestHardwareHandler(t *testing.T) {
	t.Parallel()

	rig := hil.Simulated(nil)
	defer rig.Close()
	h := &adapter.HardwareHandler{HW: rig}

	res := serve(t, h,
		`{"id":"w","command":"update_pin","params":{"pin":"d7","state":"HIGH"}}`,
		`{"id":"r","command":"read_pin","params":{"pin":"D7"}}`,
		`{"id":"bad","command":"write_pin","params":{"pin":"D42","state":"HIGH"}}`,
		`{"id":"nostate","command":"write_pin","params":{"pin":"D7"}}`,
		`{"id":"pins","command":"get_pins"}`,
	)
	require.Len(t, res, 5)
	assert.Equal(t, map[string]interface{}{"unit": float64(0), "role": "", "pin": "D7", "state": "HIGH"}, res[0].Data)
	assert.Equal(t, adapter.StatusOK, res[1].Status)
	assert.Equal(t, adapter.StatusError, res[2].Status)
	assert.Contains(t, res[2].Error, "invalid pin")
	assert.Equal(t, adapter.StatusError, res[3].Status)

	pins, ok := res[4].Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, pins, 7)
	found := false
	for _, p := range pins {
		info := p.(map[string]interface{})
		if info["role"] == "start" {
			found = true
			assert.Equal(t, "D7", info["pin"])
			assert.Equal(t, "HIGH", info["state"])
		}
	}
	assert.True(t, found)
}

const featureOK = `@simulation
Feature: Pins
  Scenario: drive D7
    Given simulation mode is enabled
    When I set pin D7 HIGH
    Then pin D7 should be HIGH

  @slow
  Scenario: drive D8
    Given simulation mode is enabled
    Then pin D8 should be LOW
`

const featureRig = `@hardware
Feature: Rig only
  Rule: wrapper
    Scenario: ping
      Given the HIL hardware is connected
`

func featureDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pins.feature"), []byte(featureOK), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rig"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rig", "wrapper.feature"), []byte(featureRig), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	return dir
}

func TestAutomationListing(t *testing.T) {
	t.Parallel()

	a := &adapter.AutomationHandler{FeaturesDir: featureDir(t)}

	features, err := a.ListFeatures()
	require.NoError(t, err)
	assert.Equal(t, []adapter.FeatureInfo{
		{Path: "pins.feature", Name: "Pins", Tags: []string{"@simulation"}, Scenarios: 2},
		{Path: "rig/wrapper.feature", Name: "Rig only", Tags: []string{"@hardware"}, Scenarios: 1},
	}, features)

	scenarios, err := a.Scenarios("pins.feature")
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "drive D8", scenarios[1].Name)
	assert.Equal(t, []string{"@simulation", "@slow"}, scenarios[1].Tags)
	assert.Equal(t, []string{"Given simulation mode is enabled", "Then pin D8 should be LOW"}, scenarios[1].Steps)

	all, err := a.Scenarios("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = a.Scenarios("missing.feature")
	require.Error(t, err)
}

func TestAutomationExecute(t *testing.T) {
	t.Parallel()

	a := &adapter.AutomationHandler{
		FeaturesDir: featureDir(t),
		Suite: &steps.Suite{
			Connect: func(context.Context) (*hil.Controller, error) {
				return hil.Simulated(nil), nil
			},
			Simulation: true,
			Budget:     100 * time.Millisecond,
		},
	}

	res, err := a.Execute(context.Background(), []string{"pins.feature"}, "~@slow")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "drive D7", res.Scenarios[0].Name)
	assert.Equal(t, report.ScenarioPassed, res.Scenarios[0].Status)
	assert.Equal(t, 1, res.Passed)
}

func TestAutomationRejectsPathsOutsideFeatures(t *testing.T) {
	t.Parallel()

	dir := featureDir(t)
	a := &adapter.AutomationHandler{FeaturesDir: filepath.Join(dir, "rig")}

	for _, feature := range []string{"../pins.feature", "/etc/passwd", "..", "rig/../../pins.feature"} {
		_, err := a.Scenarios(feature)
		require.ErrorIs(t, err, adapter.ErrBadParams, feature)

		_, err = a.Execute(context.Background(), []string{feature}, "")
		require.ErrorIs(t, err, adapter.ErrBadParams, feature)
	}

	scenarios, err := a.Scenarios("./wrapper.feature")
	require.NoError(t, err)
	assert.Len(t, scenarios, 1)
}
