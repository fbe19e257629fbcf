package modbus

import (
	"sync"

	"github.com/pkg/errors"
)

// Bank is an in-memory register file implementing Registers. Offsets outside the
// mapped range and writes to status registers answer with MODBUS exceptions.
type Bank struct {
	mu      sync.RWMutex
	values  [RegisterCount]uint16
	onWrite []func(addr, value uint16)
}

func NewBank() *Bank {
	return &Bank{}
}

// OnWrite registers fn to be called after each accepted write.
func (b *Bank) OnWrite(fn func(addr, value uint16)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onWrite = append(b.onWrite, fn)
}

func (b *Bank) ReadHolding(addr uint16) (uint16, error) {
	values, err := b.ReadHoldings(addr, 1)
	if err != nil {
		return 0, err
	}

	return values[0], nil
}

func (b *Bank) ReadHoldings(addr, quantity uint16) ([]uint16, error) {
	if quantity == 0 || int(addr)+int(quantity) > RegisterCount {
		return nil, &ExceptionError{Function: 3, Code: ExceptionIllegalDataAddress}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]uint16{}, b.values[addr:addr+quantity]...), nil
}

func (b *Bank) WriteHolding(addr, value uint16) error {
	return b.write(6, addr, []uint16{value})
}

func (b *Bank) WriteHoldings(addr uint16, values []uint16) error {
	return b.write(16, addr, values)
}

func (b *Bank) write(function byte, addr uint16, values []uint16) error {
	if len(values) == 0 || int(addr)+len(values) > RegisterCount {
		return &ExceptionError{Function: function, Code: ExceptionIllegalDataAddress}
	}
	for i := range values {
		reg, err := Lookup(Ref(addr + uint16(i)))
		if err != nil {
			return &ExceptionError{Function: function, Code: ExceptionIllegalDataAddress}
		}
		if reg.Kind == Status {
			return &ExceptionError{Function: function, Code: ExceptionIllegalDataAddress}
		}
	}

	b.mu.Lock()
	copy(b.values[addr:], values)
	hooks := append([]func(uint16, uint16){}, b.onWrite...)
	b.mu.Unlock()

	for i, v := range values {
		for _, fn := range hooks {
			fn(addr+uint16(i), v)
		}
	}

	return nil
}

// Set stores value without exception checks or hooks. It is how the device side
// updates read-only registers.
func (b *Bank) Set(addr, value uint16) error {
	if int(addr) >= RegisterCount {
		return errors.Wrapf(ErrInvalidAddress, "offset %d", addr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[addr] = value

	return nil
}

// Update applies fn to the register at addr atomically.
func (b *Bank) Update(addr uint16, fn func(uint16) uint16) error {
	if int(addr) >= RegisterCount {
		return errors.Wrapf(ErrInvalidAddress, "offset %d", addr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[addr] = fn(b.values[addr])

	return nil
}

var _ Registers = (*Bank)(nil)
