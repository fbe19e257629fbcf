package hil

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/modbus"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

// wrapperRegisters reads DUT registers through the wrapper MODBUS_READ command.
// The wrapper only relays reads.
type wrapperRegisters struct {
	w       *wrapper.Wrapper
	timeout time.Duration
}

func (r *wrapperRegisters) ctx() (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithTimeout(context.Background(), 2*time.Second)
	}

	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *wrapperRegisters) ReadHolding(addr uint16) (uint16, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	return r.w.ModbusRead(ctx, addr)
}

func (r *wrapperRegisters) ReadHoldings(addr, quantity uint16) ([]uint16, error) {
	values := make([]uint16, 0, quantity)
	for i := uint16(0); i < quantity; i++ {
		v, err := r.ReadHolding(addr + i)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return values, nil
}

func (r *wrapperRegisters) WriteHolding(addr, _ uint16) error {
	return errors.Wrapf(ErrNoRegisters, "write to offset %d needs a MODBUS port", addr)
}

var _ modbus.Registers = (*wrapperRegisters)(nil)
