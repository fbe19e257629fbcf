// Package emulator stands in for the AVR simulator: a behavioural model of the
// sonicator firmware reachable over a pseudo-terminal.
package emulator

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/modbus"
)

// Behavioural model constants.
const (
	NominalFrequencyHz = 20000
	RatedPowerW        = 2000
	AmplitudePWMHz     = 490
	adcFullScale       = 1023
)

// Core is a simulated target: digital pins, a UART and a clock.
type Core interface {
	Pin(name string) bool
	// SetPin drives an input pin of the target.
	SetPin(name string, high bool)
	// WriteUART queues bytes on the target receive line.
	WriteUART(b []byte)
	// ReadUART drains the bytes the target transmitted.
	ReadUART() []byte
	// Step advances the target by d, processing queued UART input.
	Step(d time.Duration)
}

type role struct {
	unit int
	name string
}

// Behavioral models the firmware: a MODBUS RTU slave on the UART over a register
// bank, start registers mirrored onto start pins, and status bits following the
// overload and frequency lock inputs.
type Behavioral struct {
	mu       sync.Mutex
	hw       *config.HardwareConfig
	bank     *modbus.Bank
	slave    *modbus.Slave
	roles    map[string]role
	pins     map[string]bool
	duty     map[string]float64
	adc      map[string]int
	rx       []byte
	tx       []byte
	elapsed  time.Duration
	onChange []func(pin string)
}

// NewBehavioral returns a core wired as hw describes, answering MODBUS as slaveID.
func NewBehavioral(hw *config.HardwareConfig, slaveID byte) *Behavioral {
	if hw == nil {
		hw = config.DefaultHardwareConfig()
	}
	b := &Behavioral{
		hw:    hw,
		bank:  modbus.NewBank(),
		roles: map[string]role{},
		pins:  map[string]bool{},
		duty:  map[string]float64{},
		adc:   map[string]int{},
	}
	b.slave = modbus.NewSlave(slaveID, b.bank)
	for _, unit := range hw.WiredUnits() {
		w, _ := hw.Unit(unit)
		for name, pin := range w.Pins {
			b.roles[pin] = role{unit: unit, name: name}
		}
	}
	b.bank.OnWrite(b.registerWritten)

	return b
}

// Bank exposes the register bank of the core.
func (b *Behavioral) Bank() *modbus.Bank {
	return b.bank
}

// OnChange registers fn to be called whenever an output of the core changes.
func (b *Behavioral) OnChange(fn func(pin string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

func (b *Behavioral) notify(pins ...string) {
	b.mu.Lock()
	hooks := append([]func(string){}, b.onChange...)
	b.mu.Unlock()
	for _, pin := range pins {
		for _, fn := range hooks {
			fn(pin)
		}
	}
}

func (b *Behavioral) pinOf(unit int, name string) string {
	pin, err := b.hw.Pin(unit, name)
	if err != nil {
		return ""
	}

	return pin
}

func (b *Behavioral) registerWritten(addr, value uint16) {
	reg, err := modbus.Lookup(modbus.Ref(addr))
	if err != nil {
		return
	}
	switch reg.Kind {
	case modbus.StartStop:
		b.setRunning(reg.Unit, value != 0)
	case modbus.Amplitude:
		b.refresh(reg.Unit)
	}
}

func (b *Behavioral) setStatus(unit int, bit uint16, on bool) {
	addr, err := modbus.OffsetOf(modbus.Status, unit)
	if err != nil {
		return
	}
	_ = b.bank.Update(addr, func(v uint16) uint16 {
		if on {
			return v | bit
		}

		return v &^ bit
	})
}

func (b *Behavioral) status(unit int) modbus.UnitStatus {
	addr, _ := modbus.OffsetOf(modbus.Status, unit)
	v, _ := b.bank.ReadHolding(addr)

	return modbus.DecodeStatus(v)
}

func (b *Behavioral) setRunning(unit int, running bool) {
	if running && b.status(unit).Overload {
		glog.Warningf("emulator: unit %d start refused, overload active", unit)
		running = false
		if addr, err := modbus.OffsetOf(modbus.StartStop, unit); err == nil {
			_ = b.bank.Set(addr, 0)
		}
	}
	b.setStatus(unit, modbus.StatusRunning, running)
	b.refresh(unit)
}

// refresh recomputes the derived registers and outputs of unit.
func (b *Behavioral) refresh(unit int) {
	st := b.status(unit)
	ampAddr, _ := modbus.OffsetOf(modbus.Amplitude, unit)
	amp, _ := b.bank.ReadHolding(ampAddr)

	var power, freq uint16
	if st.Running {
		power = uint16(int(amp) * RatedPowerW / 100)
		freq = NominalFrequencyHz
	}
	powerAddr, _ := modbus.OffsetOf(modbus.Power, unit)
	freqAddr, _ := modbus.OffsetOf(modbus.Frequency, unit)
	_ = b.bank.Set(powerAddr, power)
	_ = b.bank.Set(freqAddr, freq)

	changed := []string{}
	b.mu.Lock()
	if pin := b.pinOf(unit, config.RoleStart); pin != "" {
		b.pins[pin] = st.Running
		changed = append(changed, pin)
	}
	if pin := b.pinOf(unit, config.RoleAmplitude); pin != "" {
		b.duty[pin] = 0
		if st.Running {
			b.duty[pin] = float64(amp)
		}
		changed = append(changed, pin)
	}
	if pin := b.pinOf(unit, config.RolePower); pin != "" {
		b.adc[pin] = int(power) * adcFullScale / RatedPowerW
		changed = append(changed, pin)
	}
	b.mu.Unlock()

	b.notify(changed...)
}

// Reset clears every register as a power-on reset would, then samples the
// overload and frequency lock inputs again and recomputes outputs. Inputs held
// across the reset keep their status bits.
func (b *Behavioral) Reset() {
	for addr := uint16(0); addr < modbus.RegisterCount; addr++ {
		_ = b.bank.Set(addr, 0)
	}

	type input struct {
		unit int
		bit  uint16
	}
	held := []input{}
	b.mu.Lock()
	for pin, r := range b.roles {
		if !b.pins[pin] {
			continue
		}
		switch r.name {
		case config.RoleOverload:
			held = append(held, input{unit: r.unit, bit: modbus.StatusOverload})
		case config.RoleFreqLock:
			held = append(held, input{unit: r.unit, bit: modbus.StatusFreqLock})
		}
	}
	b.mu.Unlock()
	for _, in := range held {
		b.setStatus(in.unit, in.bit, true)
	}

	for unit := 1; unit <= modbus.Units; unit++ {
		b.refresh(unit)
	}
}

func (b *Behavioral) Pin(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pins[name]
}

// Duty returns the PWM duty in percent driven on pin.
func (b *Behavioral) Duty(name string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.duty[name]
}

// ADC returns the analog level presented on pin.
func (b *Behavioral) ADC(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.adc[name]
}

// SetPin drives an input. Overload inputs set the overload bit and stop the
// unit, frequency lock inputs set the lock bit, reset inputs clear overload.
func (b *Behavioral) SetPin(name string, high bool) {
	b.mu.Lock()
	prev, seen := b.pins[name]
	b.pins[name] = high
	r, mapped := b.roles[name]
	b.mu.Unlock()
	if !mapped || (seen && prev == high) {
		return
	}

	switch r.name {
	case config.RoleOverload:
		b.setStatus(r.unit, modbus.StatusOverload, high)
		if high {
			if addr, err := modbus.OffsetOf(modbus.StartStop, r.unit); err == nil {
				_ = b.bank.Set(addr, 0)
			}
			b.setRunning(r.unit, false)
		}
	case config.RoleFreqLock:
		b.setStatus(r.unit, modbus.StatusFreqLock, high)
	case config.RoleReset:
		if high {
			b.setStatus(r.unit, modbus.StatusOverload, false)
		}
	}
}

func (b *Behavioral) WriteUART(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rx = append(b.rx, p...)
}

func (b *Behavioral) ReadUART() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.tx
	b.tx = nil

	return out
}

func (b *Behavioral) Step(d time.Duration) {
	b.mu.Lock()
	in := b.rx
	b.rx = nil
	b.elapsed += d
	b.mu.Unlock()

	var out []byte
	for _, c := range in {
		out = append(out, b.slave.Feed(c)...)
	}
	if len(out) == 0 {
		return
	}
	b.mu.Lock()
	b.tx = append(b.tx, out...)
	b.mu.Unlock()
}

// Elapsed is the simulated time advanced by Step.
func (b *Behavioral) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.elapsed
}

var _ Core = (*Behavioral)(nil)
