package safety

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/modbus"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

type fakeHardware struct {
	highReads int
	writeErr  error
	writes    []string
}

func (f *fakeHardware) Ping(context.Context) error { return nil }
func (f *fakeHardware) Info(context.Context) (string, error) { return "fake", nil }
func (f *fakeHardware) ResetTarget(context.Context) error { return nil }
func (f *fakeHardware) Registers() modbus.Registers { return nil }
func (f *fakeHardware) ReadADC(context.Context, string) (int, error) { return 0, nil }

func (f *fakeHardware) MeasurePWM(context.Context, string) (wrapper.PWM, error) {
	return wrapper.PWM{}, nil
}

func (f *fakeHardware) StatusAll(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *fakeHardware) WritePin(_ context.Context, pin string, _ bool) error {
	f.writes = append(f.writes, pin)

	return f.writeErr
}

func (f *fakeHardware) ReadPin(context.Context, string) (bool, error) {
	if f.highReads > 0 {
		f.highReads--

		return true, nil
	}

	return false, nil
}

func steppingClock(step time.Duration) func() time.Time {
	now := time.Unix(0, 0)

	return func() time.Time {
		now = now.Add(step)

		return now
	}
}

func TestEmergencyStopOverBudget(t *testing.T) {
	t.Parallel()

	h := New(nil, 50*time.Millisecond)
	h.now = steppingClock(40 * time.Millisecond)
	hw := &fakeHardware{highReads: 1}

	res, err := h.EmergencyStop(context.Background(), hw, "slow")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Empty(t, res.Error)
	assert.Equal(t, 80*time.Millisecond, res.Latency)
	assert.Equal(t, []string{"D7"}, hw.writes)
}

func TestEmergencyStopHardwareError(t *testing.T) {
	t.Parallel()

	h := New(nil, 0)
	hw := &fakeHardware{writeErr: errors.New("link down")}

	res, err := h.EmergencyStop(context.Background(), hw, "fault")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "link down")
}

func TestEmergencyStopNeverSafe(t *testing.T) {
	t.Parallel()

	h := New(nil, 10*time.Millisecond)
	h.now = steppingClock(30 * time.Millisecond)
	hw := &fakeHardware{highReads: 1000}

	res, err := h.EmergencyStop(context.Background(), hw, "stuck")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, ErrNotSafe.Error())
}
