package hil_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/hil"
)

func simulated(t *testing.T) *hil.Controller {
	t.Helper()

	c := hil.Simulated(nil)
	t.Cleanup(func() { c.Close() })

	return c
}

func TestSimulatedStartDrivesPins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := simulated(t)
	require.True(t, c.Simulated())
	require.NoError(t, c.Ping(ctx))

	startPin, err := c.UnitPin(4, config.RoleStart)
	require.NoError(t, err)
	require.NoError(t, c.VerifyPin(ctx, startPin, false))

	require.NoError(t, c.Sonicators.SetAmplitude(4, 70))
	require.NoError(t, c.Sonicators.Start(4))
	require.NoError(t, c.WaitForPin(ctx, startPin, true, time.Second, 5*time.Millisecond))

	pwm, err := c.MeasurePWM(ctx, "D6")
	require.NoError(t, err)
	assert.InDelta(t, 490, pwm.FrequencyHz, 0.01)
	assert.InDelta(t, 70, pwm.DutyPct, 0.01)

	adc, err := c.ReadADC(ctx, "A1")
	require.NoError(t, err)
	assert.Positive(t, adc)

	require.NoError(t, c.Sonicators.Stop(4))
	require.NoError(t, c.WaitForPin(ctx, startPin, false, time.Second, 5*time.Millisecond))
}

func TestSimulatedOverloadInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := simulated(t)
	require.NoError(t, c.Sonicators.SetAmplitude(4, 50))
	require.NoError(t, c.Sonicators.Start(4))

	require.NoError(t, c.WritePin(ctx, "A3", true))
	st, err := c.Sonicators.Status(4)
	require.NoError(t, err)
	assert.True(t, st.Overload)
	assert.False(t, st.Running)
	require.NoError(t, c.VerifyPin(ctx, "D7", false))
}

func TestSimulatedReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := simulated(t)
	require.NoError(t, c.Sonicators.SetAmplitude(4, 50))
	require.NoError(t, c.ResetTarget(ctx))

	amp, err := c.Sonicators.Amplitude(4)
	require.NoError(t, err)
	assert.Zero(t, amp)
	assert.Equal(t, 1, c.Simulator().Resets())
}

func TestSimulatedResetWithOverloadHeld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := simulated(t)
	require.NoError(t, c.WritePin(ctx, "A3", true))
	require.NoError(t, c.ResetTarget(ctx))

	high, err := c.ReadPin(ctx, "A3")
	require.NoError(t, err)
	assert.True(t, high)
	st, err := c.Sonicators.Status(4)
	require.NoError(t, err)
	assert.True(t, st.Overload)

	require.NoError(t, c.Sonicators.SetAmplitude(4, 50))
	require.NoError(t, c.Sonicators.Start(4))
	st, err = c.Sonicators.Status(4)
	require.NoError(t, err)
	assert.False(t, st.Running)
	require.NoError(t, c.VerifyPin(ctx, "D7", false))
}

func TestVerifyPinMismatch(t *testing.T) {
	t.Parallel()

	c := simulated(t)
	err := c.VerifyPin(context.Background(), "D7", true)
	assert.ErrorIs(t, err, hil.ErrPinMismatch)
}

func TestWaitForPinTimeout(t *testing.T) {
	t.Parallel()

	c := simulated(t)
	err := c.WaitForPin(context.Background(), "D7", true, 50*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, hil.ErrTimeout)
}

func TestConnectForcedSimulation(t *testing.T) {
	t.Parallel()

	settings, err := config.Load("", nil)
	require.NoError(t, err)
	settings.Simulation.Force = true

	_, err = hil.Connect(context.Background(), settings, nil)
	require.ErrorIs(t, err, hil.ErrNoHardware)

	c, err := hil.ConnectOrSimulate(context.Background(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	assert.True(t, c.Simulated())
	assert.NotNil(t, c.Registers())
}
