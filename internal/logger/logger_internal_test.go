package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerSession(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := New(dir, "bench")
	require.NoError(t, err)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Infof("connected to %s", "/dev/ttyACM0")
	l.LogTest("ping", StatusPass, 3*time.Millisecond, nil)
	l.LogTest("emergency stop", StatusFail, 0, map[string]string{"latency": "140ms"})
	l.LogTest("pwm", StatusSkip, 0, nil)

	sum := l.Summary()
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	logData, err := os.ReadFile(filepath.Join(dir, "bench.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "2024-03-01T12:00:00Z [INFO] connected to /dev/ttyACM0")
	assert.Contains(t, string(logData), "[ERROR] test emergency stop: fail")

	data, err := os.ReadFile(filepath.Join(dir, "bench-summary.json"))
	require.NoError(t, err)
	got := Summary{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "bench", got.Session)
	assert.Equal(t, fixed, got.Finished)
	require.Len(t, got.Tests, 3)
	assert.Equal(t, "140ms", got.Tests[1].Details["latency"])
}

func TestLoggerDefaultSession(t *testing.T) {
	t.Parallel()

	l, err := New(filepath.Join(t.TempDir(), "logs"), "")
	require.NoError(t, err)
	defer l.Close()

	assert.Contains(t, filepath.Base(l.Path()), "hil-")
}
