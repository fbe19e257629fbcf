package detect_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/detect"
)

func ports() ([]*enumerator.PortDetails, error) {
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R USB UART"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
		{Name: "/dev/ttyACM1", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
	}, nil
}

func newDetector(t *testing.T, probe detect.Prober) *detect.Detector {
	t.Helper()
	t.Setenv(detect.SimulationEnv, "")

	d := detect.New(config.DefaultHardwareConfig().Signatures, probe)
	d.Enumerate = ports

	return d
}

func TestDetectSelectsAnsweringWrapper(t *testing.T) {
	d := newDetector(t, func(_ context.Context, port string) (string, error) {
		if port == "/dev/ttyACM1" {
			return "HIL-WRAPPER v1.0", nil
		}

		return "", errors.New("no response")
	})

	res, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Ports, 4)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, "/dev/ttyUSB0", res.Matches[0].Port.Name)
	assert.Equal(t, "no response", res.Matches[1].Error)
	assert.True(t, res.Matches[2].CommOK)
	assert.Equal(t, "/dev/ttyACM1", res.SelectedPort)
	assert.Equal(t, "Arduino Uno", res.SelectedDevice)
	assert.True(t, res.CommunicationOK)
	assert.False(t, res.Simulation)
}

func TestDetectNoAnswerFallsBackToSimulation(t *testing.T) {
	d := newDetector(t, func(context.Context, string) (string, error) {
		return "", errors.New("no response")
	})

	res, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", res.SelectedPort)
	assert.False(t, res.CommunicationOK)
	assert.True(t, res.Simulation)
	assert.Contains(t, res.Reason, "did not answer")
}

func TestDetectWithoutCommunicationTest(t *testing.T) {
	d := newDetector(t, nil)

	res, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", res.SelectedPort)
	assert.False(t, res.Simulation)
	assert.Contains(t, res.Reason, "not tested")
}

func TestDetectNoDevice(t *testing.T) {
	d := newDetector(t, nil)
	d.Enumerate = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil
	}

	res, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.True(t, res.Simulation)
	assert.Equal(t, "no known device found", res.Reason)
}

func TestDetectForced(t *testing.T) {
	d := newDetector(t, nil)
	t.Setenv(detect.SimulationEnv, "true")
	d.Enumerate = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("must not be called")
	}

	res, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Simulation)
	assert.Equal(t, "simulation forced", res.Reason)
}

func TestDetectEnumerationError(t *testing.T) {
	d := newDetector(t, nil)
	d.Enumerate = func() ([]*enumerator.PortDetails, error) {
		return nil, assert.AnError
	}

	_, err := d.Detect(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestWriteResultAndEnvFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := &detect.Result{Simulation: true, Reason: "no known device found"}

	path := filepath.Join(dir, "reports", "hardware_detection.json")
	require.NoError(t, detect.WriteJSON(path, res))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got := detect.Result{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Simulation)

	envFile := filepath.Join(dir, "github_env")
	require.NoError(t, os.WriteFile(envFile, []byte("FOO=bar\n"), 0o600))
	require.NoError(t, detect.ExportSimulationFlag(envFile, res))
	data, err = os.ReadFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "FOO=bar\nHIL_SIMULATION=true\n", string(data))
}
