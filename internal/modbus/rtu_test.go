package modbus_test

import (
	"testing"

	gbmodbus "github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/modbus"
)

type flakyClient struct {
	gbmodbus.Client
	failures int
	calls    int
	err      error
	written  map[uint16]uint16
}

func (c *flakyClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	res := make([]byte, 0, 2*quantity)
	for i := uint16(0); i < quantity; i++ {
		v := c.written[address+i]
		res = append(res, byte(v>>8), byte(v))
	}

	return res, nil
}

func (c *flakyClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	c.written[address] = value

	return []byte{byte(value >> 8), byte(value)}, nil
}

func (c *flakyClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	c.calls++
	for i := uint16(0); i < quantity; i++ {
		c.written[address+i] = uint16(value[2*i])<<8 | uint16(value[2*i+1])
	}

	return []byte{byte(quantity >> 8), byte(quantity)}, nil
}

func TestRTURetry(t *testing.T) {
	t.Parallel()

	client := &flakyClient{failures: 2, err: errors.New("serial: timeout"), written: map[uint16]uint16{3: 42}}
	rtu := modbus.NewRTU(client, 3, 0)

	v, err := rtu.ReadHolding(3)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), v)
	assert.Equal(t, 3, client.calls)
}

func TestRTURetryExhausted(t *testing.T) {
	t.Parallel()

	client := &flakyClient{failures: 5, err: errors.New("serial: timeout"), written: map[uint16]uint16{}}
	rtu := modbus.NewRTU(client, 3, 0)

	err := rtu.WriteHolding(0, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, client.calls)
}

func TestRTUExceptionNotRetried(t *testing.T) {
	t.Parallel()

	client := &flakyClient{
		failures: 5,
		err:      &gbmodbus.ModbusError{FunctionCode: 6, ExceptionCode: gbmodbus.ExceptionCodeIllegalDataAddress},
		written:  map[uint16]uint16{},
	}
	rtu := modbus.NewRTU(client, 3, 0)

	err := rtu.WriteHolding(19, 1)
	var excErr *modbus.ExceptionError
	require.ErrorAs(t, err, &excErr)
	assert.Equal(t, modbus.ExceptionIllegalDataAddress, excErr.Code)
	assert.Equal(t, byte(6), excErr.Function)
	assert.Equal(t, 1, client.calls)
}

func TestRTUWriteHoldings(t *testing.T) {
	t.Parallel()

	client := &flakyClient{written: map[uint16]uint16{}}
	rtu := modbus.NewRTU(client, 1, 0)

	require.NoError(t, rtu.WriteHoldings(12, []uint16{20000, 20100}))
	values, err := rtu.ReadHoldings(12, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{20000, 20100}, values)
	require.NoError(t, rtu.Close())
}
