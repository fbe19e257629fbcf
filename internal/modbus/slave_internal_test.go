package modbus

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	t.Parallel()

	frame := appendCRC([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}, frame)
	assert.True(t, validCRC(frame))
	frame[3] = 0x01
	assert.False(t, validCRC(frame))
}

func feed(s *Slave, frame []byte) []byte {
	var resp []byte
	for _, b := range frame {
		if r := s.Feed(b); r != nil {
			resp = r
		}
	}

	return resp
}

func TestSlaveReadWrite(t *testing.T) {
	t.Parallel()

	bank := NewBank()
	require.NoError(t, bank.Set(3, 60))
	slave := NewSlave(2, bank)

	resp := feed(slave, appendCRC([]byte{0x02, 0x03, 0x00, 0x03, 0x00, 0x01}))
	assert.Equal(t, appendCRC([]byte{0x02, 0x03, 0x02, 0x00, 0x3C}), resp)

	req := appendCRC([]byte{0x02, 0x06, 0x00, 0x07, 0x00, 0x01})
	resp = feed(slave, req)
	assert.Equal(t, req, resp)
	v, err := bank.ReadHolding(7)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v)

	resp = feed(slave, appendCRC([]byte{0x02, 0x10, 0x00, 0x0C, 0x00, 0x02, 0x04, 0x4E, 0x20, 0x4E, 0x84}))
	assert.Equal(t, appendCRC([]byte{0x02, 0x10, 0x00, 0x0C, 0x00, 0x02}), resp)
	values, err := bank.ReadHoldings(12, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{20000, 20100}, values)
}

func TestSlaveExceptions(t *testing.T) {
	t.Parallel()

	slave := NewSlave(2, NewBank())

	resp := feed(slave, appendCRC([]byte{0x02, 0x06, 0x00, 0x13, 0x00, 0x01}))
	assert.Equal(t, appendCRC([]byte{0x02, 0x86, ExceptionIllegalDataAddress}), resp)

	resp = feed(slave, appendCRC([]byte{0x02, 0x03, 0x00, 0x00, 0x00, 0x00}))
	assert.Equal(t, appendCRC([]byte{0x02, 0x83, ExceptionIllegalDataValue}), resp)

	resp = feed(slave, []byte{0x02, 0x2B})
	assert.Equal(t, appendCRC([]byte{0x02, 0xAB, ExceptionIllegalFunction}), resp)
}

func TestSlaveIgnoresOtherSlavesAndNoise(t *testing.T) {
	t.Parallel()

	slave := NewSlave(2, NewBank())

	assert.Nil(t, feed(slave, appendCRC([]byte{0x05, 0x03, 0x00, 0x00, 0x00, 0x01})))

	bad := appendCRC([]byte{0x02, 0x03, 0x00, 0x00, 0x00, 0x01})
	bad[7] ^= 0xFF
	good := appendCRC([]byte{0x02, 0x03, 0x00, 0x00, 0x00, 0x01})
	resp := feed(slave, append(bad, good...))
	assert.Equal(t, appendCRC([]byte{0x02, 0x03, 0x02, 0x00, 0x00}), resp)
}

func TestSlaveBroadcastWrite(t *testing.T) {
	t.Parallel()

	bank := NewBank()
	slave := NewSlave(2, bank)

	assert.Nil(t, feed(slave, appendCRC([]byte{0x00, 0x06, 0x00, 0x00, 0x00, 0x32})))
	v, err := bank.ReadHolding(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(50), v)
}

type loopback struct {
	in  io.Reader
	out bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func TestSlaveServe(t *testing.T) {
	t.Parallel()

	req := appendCRC([]byte{0x02, 0x06, 0x00, 0x00, 0x00, 0x32})
	rw := &loopback{in: bytes.NewReader(req)}
	require.NoError(t, NewSlave(2, NewBank()).Serve(rw))
	assert.Equal(t, req, rw.out.Bytes())
}
