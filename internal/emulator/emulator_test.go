package emulator_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"

	"github.com/askiada/sonicator-hil/internal/emulator"
	"github.com/askiada/sonicator-hil/internal/modbus"
)

func TestBehavioralStartMirrorsPins(t *testing.T) {
	t.Parallel()

	core := emulator.NewBehavioral(nil, modbus.DefaultSlaveID)
	changed := map[string]int{}
	core.OnChange(func(pin string) { changed[pin]++ })

	son := modbus.NewSonicator(core.Bank())
	require.NoError(t, son.SetAmplitude(4, 60))
	require.NoError(t, son.Start(4))

	assert.True(t, core.Pin("D7"))
	assert.InDelta(t, 60, core.Duty("D6"), 0.001)
	assert.Equal(t, 1200*1023/emulator.RatedPowerW, core.ADC("A1"))
	assert.NotZero(t, changed["D7"])

	snap, err := son.Snapshot(4)
	require.NoError(t, err)
	assert.True(t, snap.Started)
	assert.True(t, snap.Status.Running)
	assert.EqualValues(t, 1200, snap.PowerW)
	assert.EqualValues(t, emulator.NominalFrequencyHz, snap.FrequencyHz)

	require.NoError(t, son.Stop(4))
	assert.False(t, core.Pin("D7"))
	power, err := son.Power(4)
	require.NoError(t, err)
	assert.Zero(t, power)
}

func TestBehavioralOverload(t *testing.T) {
	t.Parallel()

	core := emulator.NewBehavioral(nil, modbus.DefaultSlaveID)
	son := modbus.NewSonicator(core.Bank())
	require.NoError(t, son.SetAmplitude(4, 50))
	require.NoError(t, son.Start(4))

	core.SetPin("A3", true)
	st, err := son.Status(4)
	require.NoError(t, err)
	assert.True(t, st.Overload)
	assert.False(t, st.Running)
	assert.False(t, core.Pin("D7"))

	// start is refused while the overload input is active
	require.NoError(t, son.Start(4))
	st, err = son.Status(4)
	require.NoError(t, err)
	assert.False(t, st.Running)

	core.SetPin("A3", false)
	core.SetPin("A2", true)
	st, err = son.Status(4)
	require.NoError(t, err)
	assert.False(t, st.Overload)

	core.SetPin("D8", true)
	st, err = son.Status(4)
	require.NoError(t, err)
	assert.True(t, st.FrequencyLock)
}

func TestBehavioralResetKeepsHeldInputs(t *testing.T) {
	t.Parallel()

	core := emulator.NewBehavioral(nil, modbus.DefaultSlaveID)
	son := modbus.NewSonicator(core.Bank())
	core.SetPin("A3", true)
	core.SetPin("D8", true)

	core.Reset()
	st, err := son.Status(4)
	require.NoError(t, err)
	assert.True(t, st.Overload)
	assert.True(t, st.FrequencyLock)

	require.NoError(t, son.SetAmplitude(4, 50))
	require.NoError(t, son.Start(4))
	st, err = son.Status(4)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.False(t, core.Pin("D7"))

	core.SetPin("A3", false)
	core.SetPin("D8", false)
	core.Reset()
	st, err = son.Status(4)
	require.NoError(t, err)
	assert.False(t, st.Overload)
	assert.False(t, st.FrequencyLock)
}

func TestBehavioralUART(t *testing.T) {
	t.Parallel()

	core := emulator.NewBehavioral(nil, modbus.DefaultSlaveID)
	// write 1 to the start register of unit 1
	core.WriteUART([]byte{0x02, 0x06, 0x00, 0x04, 0x00, 0x01})
	core.Step(time.Millisecond)
	assert.Empty(t, core.ReadUART())

	core.WriteUART([]byte{0x09, 0xF8})
	core.Step(time.Millisecond)
	assert.Equal(t, []byte{0x02, 0x06, 0x00, 0x04, 0x00, 0x01, 0x09, 0xF8}, core.ReadUART())
	assert.Equal(t, 2*time.Millisecond, core.Elapsed())
}

func TestPTYBridge(t *testing.T) {
	t.Parallel()

	core := emulator.NewBehavioral(nil, modbus.DefaultSlaveID)
	bridge, err := emulator.NewPTYBridge(core, time.Millisecond)
	if err != nil {
		t.Skipf("no pseudo-terminal available: %v", err)
	}
	t.Cleanup(func() { assert.NoError(t, bridge.Close()) })
	require.NotEmpty(t, bridge.Path())

	port, err := serial.OpenPort(&serial.Config{Name: bridge.Path(), Baud: 115200, ReadTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	request := []byte{0x02, 0x06, 0x00, 0x04, 0x00, 0x01, 0x09, 0xF8}
	_, err = port.Write(request)
	require.NoError(t, err)
	resp := make([]byte, len(request))
	_, err = io.ReadFull(port, resp)
	require.NoError(t, err)
	assert.Equal(t, request, resp)

	_, err = port.Write([]byte{0x02, 0x03, 0x00, 0x10, 0x00, 0x01, 0x85, 0xFC})
	require.NoError(t, err)
	resp = make([]byte, 7)
	_, err = io.ReadFull(port, resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03, 0x02, 0x00, 0x01, 0x3D, 0x84}, resp)
}

func TestBehavioralReset(t *testing.T) {
	t.Parallel()

	core := emulator.NewBehavioral(nil, modbus.DefaultSlaveID)
	son := modbus.NewSonicator(core.Bank())
	require.NoError(t, son.SetAmplitude(4, 80))
	require.NoError(t, son.Start(4))
	require.True(t, core.Pin("D7"))

	core.Reset()
	snap, err := son.Snapshot(4)
	require.NoError(t, err)
	assert.False(t, snap.Started)
	assert.Zero(t, snap.AmplitudePct)
	assert.False(t, core.Pin("D7"))
}
