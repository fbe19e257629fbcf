// Package hil gives tests one handle on the rig: the Arduino test wrapper, the
// MODBUS registers of the DUT and the ISP programmer, or a simulated stand-in for
// all of them.
package hil

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/detect"
	"github.com/askiada/sonicator-hil/internal/emulator"
	"github.com/askiada/sonicator-hil/internal/modbus"
	"github.com/askiada/sonicator-hil/internal/programmer"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

var (
	ErrNoHardware  = errors.New("no HIL hardware detected")
	ErrPinMismatch = errors.New("pin state mismatch")
	ErrTimeout     = errors.New("timed out waiting for pin")
	ErrNoRegisters = errors.New("no MODBUS access")
)

// Hardware is the rig as seen by tests.
type Hardware interface {
	Ping(ctx context.Context) error
	Info(ctx context.Context) (string, error)
	ReadPin(ctx context.Context, pin string) (bool, error)
	WritePin(ctx context.Context, pin string, high bool) error
	ReadADC(ctx context.Context, pin string) (int, error)
	MeasurePWM(ctx context.Context, pin string) (wrapper.PWM, error)
	ResetTarget(ctx context.Context) error
	StatusAll(ctx context.Context) (map[string]string, error)
	// Registers is nil when the DUT registers cannot be reached.
	Registers() modbus.Registers
}

// Controller implements Hardware over a wrapper link and MODBUS registers.
type Controller struct {
	*wrapper.Wrapper
	Config     *config.HardwareConfig
	Sonicators *modbus.Sonicator
	Programmer *programmer.Programmer

	regs    modbus.Registers
	sim     *wrapper.Simulator
	core    *emulator.Behavioral
	closers []func() error
}

var _ Hardware = (*Controller)(nil)

// Connect opens the wrapper on the configured port, or on the port found by
// detection when none is configured. ErrNoHardware is returned when detection
// finds nothing usable or simulation is forced.
func Connect(ctx context.Context, settings *config.Settings, hw *config.HardwareConfig) (*Controller, error) {
	if hw == nil {
		hw = config.DefaultHardwareConfig()
	}
	if settings.Simulation.Force || detect.SimulationRequested() {
		return nil, errors.Wrap(ErrNoHardware, "simulation forced")
	}

	port := settings.Serial.Port
	if port == "" {
		det := detect.New(hw.Signatures, detect.WrapperProbe(settings.Serial.Baud, settings.Serial.Timeout))
		res, err := det.Detect(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "unable to detect hardware")
		}
		if res.Simulation || res.SelectedPort == "" {
			return nil, errors.Wrap(ErrNoHardware, res.Reason)
		}
		port = res.SelectedPort
	}

	client, err := wrapper.Open(ctx, wrapper.OpenOptions{Port: port, Baud: settings.Serial.Baud, Timeout: settings.Serial.Timeout})
	if err != nil {
		return nil, err
	}
	c := &Controller{
		Wrapper:    wrapper.New(client),
		Config:     hw,
		Programmer: programmer.New(settings.Programmer),
		closers:    []func() error{client.Close},
	}

	if settings.Modbus.Port != "" {
		rtu, err := modbus.DialRTU(modbus.RTUOptions{
			Port:    settings.Modbus.Port,
			Baud:    settings.Modbus.Baud,
			SlaveID: settings.Modbus.SlaveID,
			Timeout: settings.Modbus.Timeout,
			Retries: settings.Modbus.Retries,
		})
		if err != nil {
			c.Close()

			return nil, err
		}
		c.regs = rtu
		c.closers = append(c.closers, rtu.Close)
	} else {
		glog.Infof("no MODBUS port configured, registers are read through the wrapper")
		c.regs = &wrapperRegisters{w: c.Wrapper, timeout: settings.Serial.Timeout}
	}
	c.Sonicators = modbus.NewSonicator(c.regs)
	glog.Infof("connected to HIL wrapper on %s", port)

	return c, nil
}

// ConnectOrSimulate connects to the rig and falls back to Simulated when no
// hardware is available.
func ConnectOrSimulate(ctx context.Context, settings *config.Settings, hw *config.HardwareConfig) (*Controller, error) {
	c, err := Connect(ctx, settings, hw)
	if errors.Is(err, ErrNoHardware) {
		glog.Warningf("%v, using simulation", err)

		return Simulated(hw), nil
	}

	return c, err
}

// Simulated returns a controller backed by the wrapper simulator and the
// behavioural firmware model.
func Simulated(hw *config.HardwareConfig) *Controller {
	if hw == nil {
		hw = config.DefaultHardwareConfig()
	}
	core := emulator.NewBehavioral(hw, modbus.DefaultSlaveID)
	sim := wrapper.NewSimulator(core.Bank())

	roles := map[string]string{}
	for _, unit := range hw.WiredUnits() {
		w, _ := hw.Unit(unit)
		for role, pin := range w.Pins {
			roles[pin] = role
		}
	}
	// target outputs flow to the wrapper, wrapper writes drive target inputs
	core.OnChange(func(pin string) {
		switch roles[pin] {
		case config.RoleAmplitude:
			duty := core.Duty(pin)
			pwm := wrapper.PWM{DutyPct: duty}
			if duty > 0 {
				pwm.FrequencyHz = emulator.AmplitudePWMHz
			}
			sim.SetPWM(pin, pwm)
		case config.RolePower:
			sim.SetADC(pin, core.ADC(pin))
		default:
			if sim.Pin(pin) != core.Pin(pin) {
				sim.SetPin(pin, core.Pin(pin))
			}
		}
	})
	sim.OnWrite(func(pin string, high bool) {
		if roles[pin] == config.RoleStart {
			return
		}
		core.SetPin(pin, high)
	})
	sim.OnReset(core.Reset)

	client := sim.Connect(wrapper.WithTimeout(time.Second))

	return &Controller{
		Wrapper:    wrapper.New(client),
		Config:     hw,
		Sonicators: modbus.NewSonicator(core.Bank()),
		regs:       core.Bank(),
		sim:        sim,
		core:       core,
		closers:    []func() error{client.Close},
	}
}

// Simulated reports whether c runs against the simulator.
func (c *Controller) Simulated() bool {
	return c.sim != nil
}

// Simulator is the wrapper simulator, nil on hardware.
func (c *Controller) Simulator() *wrapper.Simulator {
	return c.sim
}

// Core is the behavioural firmware model, nil on hardware.
func (c *Controller) Core() *emulator.Behavioral {
	return c.core
}

func (c *Controller) Registers() modbus.Registers {
	return c.regs
}

// UnitPin returns the wrapper pin wired to role on unit.
func (c *Controller) UnitPin(unit int, role string) (string, error) {
	return c.Config.Pin(unit, role)
}

// VerifyPin reads pin once and compares it with want.
func (c *Controller) VerifyPin(ctx context.Context, pin string, want bool) error {
	return VerifyPin(ctx, c, pin, want)
}

// WaitForPin polls pin every interval until it reads want or timeout elapses.
func (c *Controller) WaitForPin(ctx context.Context, pin string, want bool, timeout, interval time.Duration) error {
	return WaitForPin(ctx, c, pin, want, timeout, interval)
}

// Close releases the links. It is safe to call more than once.
func (c *Controller) Close() error {
	var first error
	for _, fn := range c.closers {
		err := fn()
		if err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil

	return first
}

// VerifyPin reads pin on hw once and compares it with want.
func VerifyPin(ctx context.Context, hw Hardware, pin string, want bool) error {
	got, err := hw.ReadPin(ctx, pin)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Wrapf(ErrPinMismatch, "%s is %s, expected %s", pin, wrapper.Level(got), wrapper.Level(want))
	}

	return nil
}

// WaitForPin polls pin on hw until it reads want or timeout elapses.
func WaitForPin(ctx context.Context, hw Hardware, pin string, want bool, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		got, err := hw.ReadPin(ctx, pin)
		if err == nil && got == want {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return errors.Wrapf(ErrTimeout, "%s: last error %v", pin, err)
			}

			return errors.Wrapf(ErrTimeout, "%s did not become %s within %s", pin, wrapper.Level(want), timeout)
		case <-ticker.C:
		}
	}
}
