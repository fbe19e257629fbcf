package safety_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/safety"
)

func TestEmergencyStopSimulated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := hil.Simulated(nil)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Sonicators.SetAmplitude(4, 80))
	require.NoError(t, c.Sonicators.Start(4))
	require.NoError(t, c.VerifyPin(ctx, "D7", true))

	h := safety.New(c.Config, time.Second)
	res, err := h.EmergencyStop(ctx, c, "operator button")
	require.NoError(t, err)
	assert.True(t, res.Passed, res.Error)
	assert.Empty(t, res.Error)
	assert.Equal(t, "operator button", res.Reason)
	assert.LessOrEqual(t, res.Latency, time.Second)

	snap, err := c.Sonicators.Snapshot(4)
	require.NoError(t, err)
	assert.False(t, snap.Status.Running)
	assert.Zero(t, snap.AmplitudePct)
	require.NoError(t, c.VerifyPin(ctx, "D7", false))
}

func TestEmergencyStopNoHardware(t *testing.T) {
	t.Parallel()

	_, err := safety.New(nil, 0).EmergencyStop(context.Background(), nil, "test")
	assert.ErrorIs(t, err, safety.ErrNoHardware)

	_, _, err = safety.New(nil, 0).CheckInterlocks(context.Background(), nil)
	assert.ErrorIs(t, err, safety.ErrNoHardware)
}

func TestCheckInterlocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := hil.Simulated(nil)
	t.Cleanup(func() { c.Close() })
	h := safety.New(c.Config, 0)
	assert.Equal(t, safety.DefaultBudget, h.Budget)

	locks, ok, err := h.CheckInterlocks(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, locks, 1)
	assert.Equal(t, safety.Interlock{Unit: 4, Pin: "A3"}, locks[0])

	require.NoError(t, c.WritePin(ctx, "A3", true))
	locks, ok, err = h.CheckInterlocks(ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, locks[0].Overload)
}
