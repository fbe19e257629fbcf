// Package modbus maps the sonicator holding registers of the ATmega32A firmware and
// provides RTU master and slave implementations for them.
//
// Registers are documented with their 4xxxx reference number (40001 is the first
// holding register). Register interfaces take protocol offsets, use Offset to
// convert.
package modbus

import (
	"fmt"

	"github.com/pkg/errors"
)

// DefaultSlaveID is the MODBUS address of the controller.
const DefaultSlaveID = 2

// Units is the number of sonicator channels.
const Units = 4

const (
	holdingBase = 40001
	holdingLast = 49999
)

// Kind is a group of per unit registers.
type Kind int

const (
	Amplitude Kind = iota
	StartStop
	Power
	Frequency
	Status
)

var kindBase = map[Kind]uint16{
	Amplitude: 40001,
	StartStop: 40005,
	Power:     40009,
	Frequency: 40013,
	Status:    40017,
}

var kindName = map[Kind]string{
	Amplitude: "amplitude",
	StartStop: "start_stop",
	Power:     "power",
	Frequency: "frequency",
	Status:    "status",
}

func (k Kind) String() string {
	if name, ok := kindName[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Status register bits.
const (
	StatusRunning   uint16 = 1 << 0
	StatusOverload  uint16 = 1 << 1
	StatusFreqLock  uint16 = 1 << 2
	StatusCommFault uint16 = 1 << 3
)

// RegisterCount is the number of mapped holding registers.
const RegisterCount = 20

var (
	ErrInvalidUnit    = errors.New("invalid sonicator unit")
	ErrInvalidAddress = errors.New("invalid register address")
	ErrInvalidKind    = errors.New("invalid register kind")
)

// Register describes one mapped holding register.
type Register struct {
	Ref  uint16
	Kind Kind
	Unit int
}

func (r Register) Name() string {
	return fmt.Sprintf("sonicator%d_%s", r.Unit, r.Kind)
}

// Address returns the reference number of kind for unit (1-4).
func Address(kind Kind, unit int) (uint16, error) {
	base, ok := kindBase[kind]
	if !ok {
		return 0, errors.Wrap(ErrInvalidKind, kind.String())
	}
	if unit < 1 || unit > Units {
		return 0, errors.Wrapf(ErrInvalidUnit, "%d", unit)
	}

	return base + uint16(unit-1), nil
}

// Offset converts a 4xxxx reference number to its protocol offset.
func Offset(ref uint16) (uint16, error) {
	if ref < holdingBase || ref > holdingLast {
		return 0, errors.Wrapf(ErrInvalidAddress, "%d", ref)
	}

	return ref - holdingBase, nil
}

// Ref converts a protocol offset to its 4xxxx reference number.
func Ref(offset uint16) uint16 {
	return offset + holdingBase
}

// Lookup describes the mapped register at reference ref.
func Lookup(ref uint16) (Register, error) {
	for kind, base := range kindBase {
		if ref >= base && ref < base+Units {
			return Register{Ref: ref, Kind: kind, Unit: int(ref-base) + 1}, nil
		}
	}

	return Register{}, errors.Wrapf(ErrInvalidAddress, "%d is not mapped", ref)
}

// OffsetOf returns the protocol offset of kind for unit.
func OffsetOf(kind Kind, unit int) (uint16, error) {
	ref, err := Address(kind, unit)
	if err != nil {
		return 0, err
	}

	return Offset(ref)
}

// Registers reads and writes holding registers by protocol offset.
type Registers interface {
	ReadHolding(addr uint16) (uint16, error)
	ReadHoldings(addr, quantity uint16) ([]uint16, error)
	WriteHolding(addr, value uint16) error
}
