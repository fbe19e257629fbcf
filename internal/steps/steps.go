// Package steps holds the godog step definitions of the HIL acceptance suite.
package steps

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/modbus"
	"github.com/askiada/sonicator-hil/internal/safety"
	"github.com/askiada/sonicator-hil/internal/signals"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

// HardwareTag marks scenarios that need the physical rig or the simulator.
const HardwareTag = "@hardware"

const pinSettle = 500 * time.Millisecond

// Suite configures the scenarios.
type Suite struct {
	// Connect opens the rig for a scenario.
	Connect func(ctx context.Context) (*hil.Controller, error)
	// Hardware reports a detected rig, Simulation allows the simulator.
	Hardware   bool
	Simulation bool
	Budget     time.Duration
}

// world is the state of one scenario.
type world struct {
	suite   *Suite
	hw      *hil.Controller
	lastErr error
	inj     *signals.Injector
	stop    *safety.Result
	skip    bool
}

func tagged(sc *godog.Scenario, tag string) bool {
	for _, t := range sc.Tags {
		if t.Name == tag {
			return true
		}
	}

	return false
}

// InitializeScenario registers the steps with a fresh world per scenario.
func (s *Suite) InitializeScenario(sc *godog.ScenarioContext) {
	w := &world{suite: s}

	sc.Before(func(ctx context.Context, scn *godog.Scenario) (context.Context, error) {
		if tagged(scn, HardwareTag) && !s.Hardware && !s.Simulation {
			glog.Infof("skipping %q: no hardware and simulation disabled", scn.Name)
			w.skip = true
		}

		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if w.hw != nil {
			if cerr := w.hw.Close(); cerr != nil {
				glog.Warningf("unable to close rig: %v", cerr)
			}
			w.hw = nil
		}

		return ctx, err
	})

	// common
	sc.Step(`^the HIL hardware is connected$`, w.connected)
	sc.Step(`^simulation mode is enabled$`, w.simulationMode)
	sc.Step(`^I wait (\d+) ms$`, func(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) })
	sc.Step(`^the target is reset$`, w.reset)

	// MODBUS
	sc.Step(`^I write (\d+) to register (\d+)$`, w.writeRegister)
	sc.Step(`^register (\d+) should be (\d+)$`, w.registerShouldBe)
	sc.Step(`^I set sonicator (\d) amplitude to (\d+)%$`, w.setAmplitude)
	sc.Step(`^the amplitude request should be rejected$`, w.amplitudeRejected)
	sc.Step(`^I (start|stop) sonicator (\d)$`, w.startStop)
	sc.Step(`^sonicator (\d) should be (running|stopped)$`, w.shouldBeRunning)
	sc.Step(`^sonicator (\d) status should (show|not show) (overload|frequency lock)$`, w.statusFlag)
	sc.Step(`^sonicator (\d) power should be between (\d+) and (\d+) W$`, w.powerBetween)
	sc.Step(`^sonicator (\d) frequency should be (\d+) Hz$`, w.frequencyIs)

	// GPIO
	sc.Step(`^I set pin (\w+) (HIGH|LOW)$`, w.setPin)
	sc.Step(`^pin (\w+) should be (HIGH|LOW)$`, w.pinShouldBe)
	sc.Step(`^I set the (overload|freq_lock|reset) input of sonicator (\d) (HIGH|LOW)$`, w.setInput)
	sc.Step(`^the start output of sonicator (\d) should be (HIGH|LOW)$`, w.startOutput)
	sc.Step(`^I inject a (\d+) Hz square wave on the (overload|freq_lock) input of sonicator (\d) for (\d+) ms$`, w.inject)
	sc.Step(`^the injector should have toggled the input at least (\d+) times$`, w.injectedAtLeast)

	// ADC and PWM
	sc.Step(`^ADC pin (\w+) should read between (\d+) and (\d+)$`, w.adcBetween)
	sc.Step(`^PWM on pin (\w+) should be (\d+(?:\.\d+)?) Hz within (\d+(?:\.\d+)?)%$`, w.pwmFrequency)
	sc.Step(`^PWM duty on pin (\w+) should be (\d+(?:\.\d+)?)% within (\d+(?:\.\d+)?) points$`, w.pwmDuty)

	// safety
	sc.Step(`^I trigger an emergency stop$`, w.emergencyStop)
	sc.Step(`^the emergency stop should complete within (\d+) ms$`, w.stopWithin)
	sc.Step(`^all interlocks should be clear$`, w.interlocksClear)
	sc.Step(`^the interlocks should report an overload on sonicator (\d)$`, w.interlockOverload)
}

// rig returns the rig of the scenario, connecting on first use. Skipped
// scenarios get godog.ErrSkip from their first rig step.
func (w *world) rig(ctx context.Context) (*hil.Controller, error) {
	if w.skip {
		return nil, godog.ErrSkip
	}
	if w.hw != nil {
		return w.hw, nil
	}
	if w.suite.Connect == nil {
		return nil, hil.ErrNoHardware
	}
	hw, err := w.suite.Connect(ctx)
	if err != nil {
		return nil, err
	}
	w.hw = hw

	return hw, nil
}

func (w *world) connected(ctx context.Context) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}

	return hw.Ping(ctx)
}

func (w *world) simulationMode(ctx context.Context) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	if !hw.Simulated() {
		return godog.ErrSkip
	}

	return nil
}

func (w *world) reset(ctx context.Context) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}

	return hw.ResetTarget(ctx)
}

func (w *world) registers(ctx context.Context) (modbus.Registers, error) {
	hw, err := w.rig(ctx)
	if err != nil {
		return nil, err
	}
	regs := hw.Registers()
	if regs == nil {
		return nil, hil.ErrNoRegisters
	}

	return regs, nil
}

// registerRef parses a 4xxxx reference and checks it is mapped.
func registerRef(s string) (uint16, error) {
	ref, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(modbus.ErrInvalidAddress, "register %s", s)
	}
	_, err = modbus.Lookup(uint16(ref))
	if err != nil {
		return 0, err
	}

	return uint16(ref), nil
}

func registerValue(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Errorf("register value %s out of range 0-65535", s)
	}

	return uint16(v), nil
}

func (w *world) writeRegister(ctx context.Context, value, register string) error {
	v, err := registerValue(value)
	if err != nil {
		return err
	}
	ref, err := registerRef(register)
	if err != nil {
		return err
	}
	regs, err := w.registers(ctx)
	if err != nil {
		return err
	}
	addr, err := modbus.Offset(ref)
	if err != nil {
		return err
	}

	return regs.WriteHolding(addr, v)
}

func (w *world) registerShouldBe(ctx context.Context, register, value string) error {
	ref, err := registerRef(register)
	if err != nil {
		return err
	}
	want, err := registerValue(value)
	if err != nil {
		return err
	}
	regs, err := w.registers(ctx)
	if err != nil {
		return err
	}
	addr, err := modbus.Offset(ref)
	if err != nil {
		return err
	}
	got, err := regs.ReadHolding(addr)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Errorf("register %d is %d, expected %d", ref, got, want)
	}

	return nil
}

func (w *world) setAmplitude(ctx context.Context, unit, pct int) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	w.lastErr = hw.Sonicators.SetAmplitude(unit, pct)
	if errors.Is(w.lastErr, modbus.ErrAmplitudeRange) {
		return nil
	}

	return w.lastErr
}

func (w *world) amplitudeRejected() error {
	if !errors.Is(w.lastErr, modbus.ErrAmplitudeRange) {
		return errors.Errorf("expected an amplitude range error, got %v", w.lastErr)
	}

	return nil
}

func (w *world) startStop(ctx context.Context, action string, unit int) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	if action == "start" {
		return hw.Sonicators.Start(unit)
	}

	return hw.Sonicators.Stop(unit)
}

func (w *world) status(ctx context.Context, unit int) (modbus.UnitStatus, error) {
	hw, err := w.rig(ctx)
	if err != nil {
		return modbus.UnitStatus{}, err
	}

	return hw.Sonicators.Status(unit)
}

func (w *world) shouldBeRunning(ctx context.Context, unit int, state string) error {
	st, err := w.status(ctx, unit)
	if err != nil {
		return err
	}
	if st.Running != (state == "running") {
		return errors.Errorf("sonicator %d running=%t, expected %s", unit, st.Running, state)
	}

	return nil
}

func (w *world) statusFlag(ctx context.Context, unit int, show, flag string) error {
	st, err := w.status(ctx, unit)
	if err != nil {
		return err
	}
	got := st.Overload
	if flag == "frequency lock" {
		got = st.FrequencyLock
	}
	if got != (show == "show") {
		return errors.Errorf("sonicator %d %s=%t (status 0x%04X)", unit, flag, got, st.Raw)
	}

	return nil
}

func (w *world) powerBetween(ctx context.Context, unit, lo, hi int) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	p, err := hw.Sonicators.Power(unit)
	if err != nil {
		return err
	}
	if p < lo || p > hi {
		return errors.Errorf("sonicator %d power %d W not in %d-%d", unit, p, lo, hi)
	}

	return nil
}

func (w *world) frequencyIs(ctx context.Context, unit, want int) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	f, err := hw.Sonicators.Frequency(unit)
	if err != nil {
		return err
	}
	if f != want {
		return errors.Errorf("sonicator %d frequency %d Hz, expected %d", unit, f, want)
	}

	return nil
}

func (w *world) setPin(ctx context.Context, pin, level string) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	high, err := wrapper.ParseLevel(level)
	if err != nil {
		return err
	}

	return hw.WritePin(ctx, strings.ToUpper(pin), high)
}

func (w *world) pinShouldBe(ctx context.Context, pin, level string) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	high, err := wrapper.ParseLevel(level)
	if err != nil {
		return err
	}

	return hw.WaitForPin(ctx, strings.ToUpper(pin), high, pinSettle, 10*time.Millisecond)
}

func (w *world) setInput(ctx context.Context, role string, unit int, level string) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	pin, err := hw.UnitPin(unit, role)
	if err != nil {
		return err
	}

	return w.setPin(ctx, pin, level)
}

func (w *world) startOutput(ctx context.Context, unit int, level string) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	pin, err := hw.UnitPin(unit, config.RoleStart)
	if err != nil {
		return err
	}

	return w.pinShouldBe(ctx, pin, level)
}

func (w *world) inject(ctx context.Context, hz int, role string, unit, ms int) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	pin, err := hw.UnitPin(unit, role)
	if err != nil {
		return err
	}
	w.inj = &signals.Injector{
		Writer:    hw,
		Pin:       pin,
		Generator: signals.Square{FrequencyHz: float64(hz)},
		Interval:  time.Millisecond,
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	defer cancel()

	return w.inj.Run(runCtx)
}

func (w *world) injectedAtLeast(n int) error {
	if w.inj == nil {
		return errors.New("nothing was injected")
	}
	if got := w.inj.Writes(); got < int64(n) {
		return errors.Errorf("injector wrote %d levels, expected at least %d", got, n)
	}

	return nil
}

func (w *world) adcBetween(ctx context.Context, pin string, lo, hi int) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	v, err := hw.ReadADC(ctx, strings.ToUpper(pin))
	if err != nil {
		return err
	}
	if v < lo || v > hi {
		return errors.Errorf("ADC %s = %d not in %d-%d", pin, v, lo, hi)
	}

	return nil
}

func (w *world) pwmFrequency(ctx context.Context, pin string, want, tol float64) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	p, err := hw.MeasurePWM(ctx, strings.ToUpper(pin))
	if err != nil {
		return err
	}
	if !signals.Within(p.FrequencyHz, want, tol) {
		return errors.Errorf("PWM %s at %.2f Hz, expected %.2f Hz +/- %.1f%%", pin, p.FrequencyHz, want, tol)
	}

	return nil
}

func (w *world) pwmDuty(ctx context.Context, pin string, want, tol float64) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	p, err := hw.MeasurePWM(ctx, strings.ToUpper(pin))
	if err != nil {
		return err
	}
	if p.DutyPct < want-tol || p.DutyPct > want+tol {
		return errors.Errorf("PWM %s duty %.2f%%, expected %.2f%% +/- %.2f", pin, p.DutyPct, want, tol)
	}

	return nil
}

func (w *world) harness() *safety.Harness {
	var cfg *config.HardwareConfig
	if w.hw != nil {
		cfg = w.hw.Config
	}

	return safety.New(cfg, w.suite.Budget)
}

func (w *world) emergencyStop(ctx context.Context) error {
	hw, err := w.rig(ctx)
	if err != nil {
		return err
	}
	res, err := w.harness().EmergencyStop(ctx, hw, "bdd scenario")
	if err != nil {
		return err
	}
	w.stop = res
	if res.Error != "" {
		return errors.New(res.Error)
	}

	return nil
}

func (w *world) stopWithin(ms int) error {
	if w.stop == nil {
		return errors.New("no emergency stop was triggered")
	}
	limit := time.Duration(ms) * time.Millisecond
	if w.stop.Latency > limit {
		return errors.Errorf("emergency stop took %s, limit %s", w.stop.Latency, limit)
	}

	return nil
}

func (w *world) interlocks(ctx context.Context) ([]safety.Interlock, error) {
	hw, err := w.rig(ctx)
	if err != nil {
		return nil, err
	}
	locks, _, err := w.harness().CheckInterlocks(ctx, hw)

	return locks, err
}

func (w *world) interlocksClear(ctx context.Context) error {
	locks, err := w.interlocks(ctx)
	if err != nil {
		return err
	}
	for _, l := range locks {
		if l.Overload || l.Error != "" {
			return errors.Errorf("interlock on sonicator %d (%s) not clear", l.Unit, l.Pin)
		}
	}

	return nil
}

func (w *world) interlockOverload(ctx context.Context, unit int) error {
	locks, err := w.interlocks(ctx)
	if err != nil {
		return err
	}
	for _, l := range locks {
		if l.Unit == unit && l.Overload {
			return nil
		}
	}

	return errors.Errorf("no overload reported on sonicator %d", unit)
}
