// Package safety measures how fast the rig reaches a safe state after an
// emergency stop and checks the overload interlocks.
package safety

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/modbus"
)

// DefaultBudget is the longest accepted emergency stop latency.
const DefaultBudget = 100 * time.Millisecond

var (
	ErrNoHardware = errors.New("no hardware for safety test")
	ErrNotSafe    = errors.New("safe state not reached")
)

// Result is the outcome of an emergency stop.
type Result struct {
	Passed  bool          `json:"passed"`
	Latency time.Duration `json:"latency_ns"`
	Budget  time.Duration `json:"budget_ns"`
	Reason  string        `json:"reason"`
	Error   string        `json:"error,omitempty"`
}

// Harness runs the safety checks against a rig.
type Harness struct {
	Config *config.HardwareConfig
	Budget time.Duration
	// PollInterval is the delay between two reads while confirming the safe state.
	PollInterval time.Duration
	now          func() time.Time
}

// New returns a harness with the given budget, DefaultBudget when zero.
func New(hw *config.HardwareConfig, budget time.Duration) *Harness {
	if hw == nil {
		hw = config.DefaultHardwareConfig()
	}
	if budget <= 0 {
		budget = DefaultBudget
	}

	return &Harness{Config: hw, Budget: budget, PollInterval: 2 * time.Millisecond, now: time.Now}
}

// EmergencyStop drives every wired start output LOW, sets every amplitude to 0
// and stops every unit over MODBUS when registers are reachable, then polls until
// the start outputs read LOW. Latency runs from the trigger to that confirmation.
// Hardware errors give a failed Result, not an error.
func (h *Harness) EmergencyStop(ctx context.Context, hw hil.Hardware, reason string) (*Result, error) {
	if hw == nil {
		return nil, ErrNoHardware
	}
	res := &Result{Budget: h.Budget, Reason: reason}

	pins := []string{}
	for _, unit := range h.Config.WiredUnits() {
		pin, err := h.Config.Pin(unit, config.RoleStart)
		if err == nil {
			pins = append(pins, pin)
		}
	}

	start := h.now()
	err := h.trigger(ctx, hw, pins)
	if err == nil {
		err = h.confirm(ctx, hw, pins, start)
	}
	res.Latency = h.now().Sub(start)
	if err != nil {
		glog.Errorf("emergency stop (%s) failed: %v", reason, err)
		res.Error = err.Error()

		return res, nil
	}
	res.Passed = res.Latency <= h.Budget
	if !res.Passed {
		glog.Warningf("emergency stop (%s) took %s, budget %s", reason, res.Latency, h.Budget)
	}

	return res, nil
}

func (h *Harness) trigger(ctx context.Context, hw hil.Hardware, pins []string) error {
	if regs := hw.Registers(); regs != nil {
		err := stopRegisters(regs)
		if err != nil && !errors.Is(err, hil.ErrNoRegisters) {
			return err
		}
	}
	for _, pin := range pins {
		err := hw.WritePin(ctx, pin, false)
		if err != nil {
			return errors.Wrapf(err, "unable to drive %s low", pin)
		}
	}

	return nil
}

func stopRegisters(regs modbus.Registers) error {
	for unit := 1; unit <= modbus.Units; unit++ {
		for _, kind := range []modbus.Kind{modbus.StartStop, modbus.Amplitude} {
			addr, err := modbus.OffsetOf(kind, unit)
			if err != nil {
				return err
			}
			err = regs.WriteHolding(addr, 0)
			if err != nil {
				return errors.Wrapf(err, "unable to clear unit %d %s", unit, kind)
			}
		}
	}

	return nil
}

func (h *Harness) confirm(ctx context.Context, hw hil.Hardware, pins []string, start time.Time) error {
	// polling continues up to ten budgets
	deadline := start.Add(10 * h.Budget)
	for {
		safe := true
		for _, pin := range pins {
			high, err := hw.ReadPin(ctx, pin)
			if err != nil {
				return errors.Wrapf(err, "unable to read %s", pin)
			}
			if high {
				safe = false

				break
			}
		}
		if safe {
			return nil
		}
		if h.now().After(deadline) {
			return errors.Wrapf(ErrNotSafe, "start outputs still high after %s", 10*h.Budget)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.PollInterval):
		}
	}
}

// Interlock is the overload input of one unit.
type Interlock struct {
	Unit     int    `json:"unit"`
	Pin      string `json:"pin"`
	Overload bool   `json:"overload"`
	Error    string `json:"error,omitempty"`
}

// CheckInterlocks reads the overload input of every wired unit. ok is false when
// any input reads an overload or cannot be read.
func (h *Harness) CheckInterlocks(ctx context.Context, hw hil.Hardware) ([]Interlock, bool, error) {
	if hw == nil {
		return nil, false, ErrNoHardware
	}
	ok := true
	res := []Interlock{}
	for _, unit := range h.Config.WiredUnits() {
		pin, err := h.Config.Pin(unit, config.RoleOverload)
		if err != nil {
			continue
		}
		il := Interlock{Unit: unit, Pin: pin}
		high, err := hw.ReadPin(ctx, pin)
		if err != nil {
			il.Error = err.Error()
			ok = false
		} else if high {
			il.Overload = true
			ok = false
		}
		res = append(res, il)
	}

	return res, ok, nil
}
