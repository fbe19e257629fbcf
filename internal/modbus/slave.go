package modbus

import (
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	fnReadHolding    = 0x03
	fnWriteSingle    = 0x06
	fnWriteMultiple  = 0x10
	maxReadQuantity  = 125
	maxWriteQuantity = 123
)

// multiWriter is implemented by register files supporting function 16 natively.
type multiWriter interface {
	WriteHoldings(addr uint16, values []uint16) error
}

// Slave answers RTU requests for one slave id from a Registers implementation.
// Requests are assembled byte by byte with Feed, or read from a stream with Serve.
type Slave struct {
	id   byte
	regs Registers
	buf  []byte
}

func NewSlave(id byte, regs Registers) *Slave {
	return &Slave{id: id, regs: regs}
}

// frameLen returns the length of the request in buf, or 0 when more bytes are
// needed to know it.
func frameLen(buf []byte) int {
	if len(buf) < 2 {
		return 0
	}
	switch buf[1] {
	case fnReadHolding, fnWriteSingle:
		return 8
	case fnWriteMultiple:
		if len(buf) < 7 {
			return 0
		}

		return 9 + int(buf[6])
	default:
		return -1
	}
}

// Feed appends b to the request being assembled and returns the response once a
// complete request addressed to this slave was received. Bytes that cannot start
// a valid request are dropped one at a time until the stream resynchronises.
func (s *Slave) Feed(b byte) []byte {
	s.buf = append(s.buf, b)
	for len(s.buf) > 0 {
		if s.buf[0] != s.id && s.buf[0] != 0 {
			s.buf = s.buf[1:]

			continue
		}
		n := frameLen(s.buf)
		switch {
		case n == 0, n > len(s.buf):
			return nil
		case n < 0:
			fn := s.buf[1]
			broadcast := s.buf[0] == 0
			s.buf = s.buf[:0]
			if broadcast {
				return nil
			}

			return s.exception(fn, ExceptionIllegalFunction)
		}

		frame := s.buf[:n]
		if !validCRC(frame) {
			glog.V(2).Infof("modbus slave dropped byte, bad crc in % x", frame)
			s.buf = s.buf[1:]

			continue
		}
		broadcast := frame[0] == 0
		resp := s.Handle(frame)
		s.buf = append(s.buf[:0], s.buf[n:]...)
		if broadcast {
			return nil
		}

		return resp
	}

	return nil
}

// Handle answers a complete request frame with a valid CRC.
func (s *Slave) Handle(frame []byte) []byte {
	fn := frame[1]
	pdu := frame[2 : len(frame)-2]
	switch fn {
	case fnReadHolding:
		addr := binary.BigEndian.Uint16(pdu[0:])
		quantity := binary.BigEndian.Uint16(pdu[2:])
		if quantity == 0 || quantity > maxReadQuantity {
			return s.exception(fn, ExceptionIllegalDataValue)
		}
		values, err := s.regs.ReadHoldings(addr, quantity)
		if err != nil {
			return s.failure(fn, err)
		}
		resp := []byte{s.id, fn, byte(2 * len(values))}
		resp = append(resp, encodeWords(values)...)

		return appendCRC(resp)
	case fnWriteSingle:
		addr := binary.BigEndian.Uint16(pdu[0:])
		value := binary.BigEndian.Uint16(pdu[2:])
		err := s.regs.WriteHolding(addr, value)
		if err != nil {
			return s.failure(fn, err)
		}

		return appendCRC(append([]byte{s.id}, frame[1:6]...))
	case fnWriteMultiple:
		addr := binary.BigEndian.Uint16(pdu[0:])
		quantity := binary.BigEndian.Uint16(pdu[2:])
		count := int(pdu[4])
		if quantity == 0 || quantity > maxWriteQuantity || count != 2*int(quantity) || len(pdu) != 5+count {
			return s.exception(fn, ExceptionIllegalDataValue)
		}
		values := decodeWords(pdu[5:])
		var err error
		if mw, ok := s.regs.(multiWriter); ok {
			err = mw.WriteHoldings(addr, values)
		} else {
			for i, v := range values {
				err = s.regs.WriteHolding(addr+uint16(i), v)
				if err != nil {
					break
				}
			}
		}
		if err != nil {
			return s.failure(fn, err)
		}

		return appendCRC(append([]byte{s.id}, frame[1:6]...))
	default:
		return s.exception(fn, ExceptionIllegalFunction)
	}
}

func (s *Slave) exception(fn, code byte) []byte {
	return appendCRC([]byte{s.id, fn | 0x80, code})
}

func (s *Slave) failure(fn byte, err error) []byte {
	var excErr *ExceptionError
	if errors.As(err, &excErr) {
		return s.exception(fn, excErr.Code)
	}
	glog.Warningf("modbus slave function %d failed: %v", fn, err)

	return s.exception(fn, ExceptionSlaveDeviceFailure)
}

// Serve reads requests from rw and writes the responses until rw returns an
// error. io.EOF ends Serve without error.
func (s *Slave) Serve(rw io.ReadWriter) error {
	buf := make([]byte, 256)
	for {
		n, err := rw.Read(buf)
		for _, b := range buf[:n] {
			resp := s.Feed(b)
			if resp == nil {
				continue
			}
			_, werr := rw.Write(resp)
			if werr != nil {
				return errors.Wrap(werr, "unable to write modbus response")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return errors.Wrap(err, "unable to read modbus request")
		}
	}
}
