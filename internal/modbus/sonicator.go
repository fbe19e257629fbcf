package modbus

import (
	"github.com/pkg/errors"
)

// Amplitude limits in percent accepted by the firmware.
const (
	MinAmplitude = 20
	MaxAmplitude = 100
)

var ErrAmplitudeRange = errors.New("amplitude out of range")

// UnitStatus is a decoded status register.
type UnitStatus struct {
	Raw           uint16 `json:"raw"`
	Running       bool   `json:"running"`
	Overload      bool   `json:"overload"`
	FrequencyLock bool   `json:"frequency_lock"`
	CommFault     bool   `json:"comm_fault"`
}

// DecodeStatus splits a status register into its flags.
func DecodeStatus(raw uint16) UnitStatus {
	return UnitStatus{
		Raw:           raw,
		Running:       raw&StatusRunning != 0,
		Overload:      raw&StatusOverload != 0,
		FrequencyLock: raw&StatusFreqLock != 0,
		CommFault:     raw&StatusCommFault != 0,
	}
}

// UnitSnapshot holds every register of one unit.
type UnitSnapshot struct {
	Unit         int        `json:"unit"`
	AmplitudePct uint16     `json:"amplitude_pct"`
	Started      bool       `json:"started"`
	PowerW       uint16     `json:"power_w"`
	FrequencyHz  uint16     `json:"frequency_hz"`
	Status       UnitStatus `json:"status"`
}

// Sonicator drives sonicator units through their holding registers.
type Sonicator struct {
	regs Registers
}

func NewSonicator(regs Registers) *Sonicator {
	return &Sonicator{regs: regs}
}

// Registers returns the underlying register access.
func (s *Sonicator) Registers() Registers {
	return s.regs
}

func (s *Sonicator) read(kind Kind, unit int) (uint16, error) {
	addr, err := OffsetOf(kind, unit)
	if err != nil {
		return 0, err
	}
	value, err := s.regs.ReadHolding(addr)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to read unit %d %s", unit, kind)
	}

	return value, nil
}

func (s *Sonicator) write(kind Kind, unit int, value uint16) error {
	addr, err := OffsetOf(kind, unit)
	if err != nil {
		return err
	}
	err = s.regs.WriteHolding(addr, value)
	if err != nil {
		return errors.Wrapf(err, "unable to write unit %d %s", unit, kind)
	}

	return nil
}

// SetAmplitude sets the amplitude of unit in percent. Values outside 20-100 are
// rejected, not clamped.
func (s *Sonicator) SetAmplitude(unit, pct int) error {
	if pct < MinAmplitude || pct > MaxAmplitude {
		return errors.Wrapf(ErrAmplitudeRange, "%d%% not in %d-%d", pct, MinAmplitude, MaxAmplitude)
	}

	return s.write(Amplitude, unit, uint16(pct))
}

func (s *Sonicator) Amplitude(unit int) (int, error) {
	v, err := s.read(Amplitude, unit)

	return int(v), err
}

func (s *Sonicator) Start(unit int) error {
	return s.write(StartStop, unit, 1)
}

func (s *Sonicator) Stop(unit int) error {
	return s.write(StartStop, unit, 0)
}

// Power returns the output power of unit in watts.
func (s *Sonicator) Power(unit int) (int, error) {
	v, err := s.read(Power, unit)

	return int(v), err
}

// Frequency returns the operating frequency of unit in hertz.
func (s *Sonicator) Frequency(unit int) (int, error) {
	v, err := s.read(Frequency, unit)

	return int(v), err
}

func (s *Sonicator) Status(unit int) (UnitStatus, error) {
	v, err := s.read(Status, unit)
	if err != nil {
		return UnitStatus{}, err
	}

	return DecodeStatus(v), nil
}

// Snapshot reads every register of unit.
func (s *Sonicator) Snapshot(unit int) (UnitSnapshot, error) {
	snap := UnitSnapshot{Unit: unit}
	for _, kind := range []Kind{Amplitude, StartStop, Power, Frequency, Status} {
		v, err := s.read(kind, unit)
		if err != nil {
			return snap, err
		}
		switch kind {
		case Amplitude:
			snap.AmplitudePct = v
		case StartStop:
			snap.Started = v != 0
		case Power:
			snap.PowerW = v
		case Frequency:
			snap.FrequencyHz = v
		case Status:
			snap.Status = DecodeStatus(v)
		}
	}

	return snap, nil
}

// StopAll writes stop to every unit and returns the first error.
func (s *Sonicator) StopAll() error {
	var first error
	for unit := 1; unit <= Units; unit++ {
		err := s.Stop(unit)
		if err != nil && first == nil {
			first = err
		}
	}

	return first
}
