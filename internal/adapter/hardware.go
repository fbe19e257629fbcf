package adapter

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

// PinInfo describes a wired pin for the UI.
type PinInfo struct {
	Unit  int    `json:"unit"`
	Role  string `json:"role"`
	Pin   string `json:"pin"`
	State string `json:"state,omitempty"`
}

type pinParams struct {
	Pin   string `json:"pin"`
	State string `json:"state"`
}

// HardwareHandler exposes the rig.
type HardwareHandler struct {
	HW     hil.Hardware
	Config *config.HardwareConfig
}

func (h *HardwareHandler) Handle(ctx context.Context, req Request) (interface{}, error) {
	switch req.Command {
	case "ping":
		err := h.HW.Ping(ctx)
		if err != nil {
			return nil, err
		}

		return map[string]string{"reply": "pong"}, nil
	case "get_pins":
		return h.pins(ctx)
	case "read_pin":
		p, err := h.pinParams(req, false)
		if err != nil {
			return nil, err
		}

		return h.readPin(ctx, p.Pin)
	case "write_pin", "update_pin":
		p, err := h.pinParams(req, true)
		if err != nil {
			return nil, err
		}
		high, err := wrapper.ParseLevel(p.State)
		if err != nil {
			return nil, errors.Wrap(ErrBadParams, err.Error())
		}
		err = h.HW.WritePin(ctx, p.Pin, high)
		if err != nil {
			return nil, err
		}
		if req.Command == "update_pin" {
			return h.readPin(ctx, p.Pin)
		}

		return PinInfo{Pin: p.Pin, State: wrapper.Level(high)}, nil
	case "read_adc":
		p, err := h.pinParams(req, false)
		if err != nil {
			return nil, err
		}
		v, err := h.HW.ReadADC(ctx, p.Pin)
		if err != nil {
			return nil, err
		}

		return map[string]interface{}{"pin": p.Pin, "value": v}, nil
	case "measure_pwm":
		p, err := h.pinParams(req, false)
		if err != nil {
			return nil, err
		}
		pwm, err := h.HW.MeasurePWM(ctx, p.Pin)
		if err != nil {
			return nil, err
		}

		return map[string]interface{}{"pin": p.Pin, "frequency_hz": pwm.FrequencyHz, "duty_pct": pwm.DutyPct}, nil
	case "status":
		return h.HW.StatusAll(ctx)
	case "stop":
		return nil, ErrStop
	default:
		return nil, errors.Wrap(ErrUnknownCommand, req.Command)
	}
}

func (h *HardwareHandler) pinParams(req Request, needState bool) (pinParams, error) {
	var p pinParams
	err := req.Decode(&p)
	if err != nil {
		return p, err
	}
	p.Pin = strings.ToUpper(p.Pin)
	if !wrapper.ValidPin(p.Pin) {
		return p, errors.Wrapf(ErrBadParams, "invalid pin %q", p.Pin)
	}
	if needState && p.State == "" {
		return p, errors.Wrap(ErrBadParams, "state is required")
	}

	return p, nil
}

func (h *HardwareHandler) readPin(ctx context.Context, pin string) (PinInfo, error) {
	high, err := h.HW.ReadPin(ctx, pin)
	if err != nil {
		return PinInfo{}, err
	}

	return PinInfo{Pin: pin, State: wrapper.Level(high)}, nil
}

// pins lists the wired pins with their current state.
func (h *HardwareHandler) pins(ctx context.Context) ([]PinInfo, error) {
	cfg := h.Config
	if cfg == nil {
		cfg = config.DefaultHardwareConfig()
	}
	status, err := h.HW.StatusAll(ctx)
	if err != nil {
		return nil, err
	}
	res := []PinInfo{}
	for _, unit := range cfg.WiredUnits() {
		w, _ := cfg.Unit(unit)
		for role, pin := range w.Pins {
			res = append(res, PinInfo{Unit: unit, Role: role, Pin: pin, State: status[pin]})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Unit != res[j].Unit {
			return res[i].Unit < res[j].Unit
		}

		return res[i].Role < res[j].Role
	})

	return res, nil
}
