package sandbox_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/sandbox"
)

func TestRunScript(t *testing.T) {
	t.Parallel()

	c := hil.Simulated(nil)
	t.Cleanup(func() { c.Close() })

	var out bytes.Buffer
	script := strings.Join([]string{
		"help",
		"ping",
		"write d7 high",
		"read D7",
		"mb write 40001 55",
		"mb read 40001",
		"mb write 40017 1",
		"adc A1",
		"status",
		"bogus",
		"quit",
		"ping",
	}, "\n")
	require.NoError(t, sandbox.New(c, &out).Run(context.Background(), strings.NewReader(script)))

	text := out.String()
	assert.Contains(t, text, "mb read <addr>")
	assert.Contains(t, text, "pong")
	assert.Contains(t, text, "D7 HIGH")
	assert.Contains(t, text, "40001 (sonicator1_amplitude) = 55")
	assert.Contains(t, text, "A1 = 0")
	assert.Contains(t, text, "unknown command")
	assert.Equal(t, 1, strings.Count(text, "pong"))
	assert.False(t, c.Simulator().InSandbox())
}

func TestExec(t *testing.T) {
	t.Parallel()

	c := hil.Simulated(nil)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()
	s := sandbox.New(c, &bytes.Buffer{})

	quit, err := s.Exec(ctx, "   ")
	require.NoError(t, err)
	assert.False(t, quit)

	_, err = s.Exec(ctx, "read")
	assert.ErrorIs(t, err, sandbox.ErrUsage)
	_, err = s.Exec(ctx, "mb read nope")
	assert.Error(t, err)
	_, err = s.Exec(ctx, "teleport")
	assert.ErrorIs(t, err, sandbox.ErrUnknownCommand)

	quit, err = s.Exec(ctx, "exit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestWatch(t *testing.T) {
	t.Parallel()

	c := hil.Simulated(nil)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	var out bytes.Buffer
	s := sandbox.New(c, &out)
	assert.False(t, s.Unwatch())

	_, err := s.Exec(ctx, "watch 50ms")
	require.NoError(t, err)
	// restarting replaces the running watcher
	_, err = s.Exec(ctx, "watch 50ms")
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
	assert.True(t, s.Unwatch())

	assert.Contains(t, out.String(), "D7=LOW")
	_, err = s.Exec(ctx, "watch soon")
	assert.ErrorIs(t, err, sandbox.ErrUsage)
}
