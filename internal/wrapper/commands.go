package wrapper

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var pinRe = regexp.MustCompile(`^(D([0-9]|1[0-3])|A[0-5])$`)

// ValidPin reports whether pin names an Arduino Uno pin (D0-D13, A0-A5).
func ValidPin(pin string) bool {
	return pinRe.MatchString(pin)
}

// Level is the textual pin state.
func Level(high bool) string {
	if high {
		return "HIGH"
	}

	return "LOW"
}

// ParseLevel parses HIGH/LOW and 1/0.
func ParseLevel(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "HIGH", "1", "ON":
		return true, nil
	case "LOW", "0", "OFF":
		return false, nil
	default:
		return false, errors.Errorf("invalid pin level %q", s)
	}
}

// PWM is a MEASURE_PWM reading.
type PWM struct {
	FrequencyHz float64 `json:"frequency_hz"`
	DutyPct     float64 `json:"duty_pct"`
}

// Wrapper exposes the typed wrapper commands over a Transport.
type Wrapper struct {
	t Transport
}

func New(t Transport) *Wrapper {
	return &Wrapper{t: t}
}

// Transport returns the underlying transport.
func (w *Wrapper) Transport() Transport {
	return w.t
}

func (w *Wrapper) expectOK(ctx context.Context, cmd string) error {
	reply, err := w.t.Command(ctx, cmd)
	if err != nil {
		return err
	}
	if reply != "OK" && !strings.HasPrefix(reply, "OK ") {
		return unexpected(cmd, reply)
	}

	return nil
}

// fields sends cmd and splits a reply expected to start with prefix into n fields.
func (w *Wrapper) fields(ctx context.Context, cmd, prefix string, n int) ([]string, error) {
	reply, err := w.t.Command(ctx, cmd)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(reply)
	if len(parts) != n || parts[0] != prefix {
		return nil, unexpected(cmd, reply)
	}

	return parts, nil
}

func (w *Wrapper) Ping(ctx context.Context) error {
	return w.expectOK(ctx, "PING")
}

// Info returns the firmware identification text.
func (w *Wrapper) Info(ctx context.Context) (string, error) {
	reply, err := w.t.Command(ctx, "INFO")
	if err != nil {
		return "", err
	}
	text, ok := strings.CutPrefix(reply, "OK")
	if !ok {
		return "", unexpected("INFO", reply)
	}

	return strings.TrimSpace(text), nil
}

func (w *Wrapper) ReadPin(ctx context.Context, pin string) (bool, error) {
	if !ValidPin(pin) {
		return false, errors.Wrap(ErrInvalidPin, pin)
	}
	cmd := "READ_PIN " + pin
	parts, err := w.fields(ctx, cmd, "PIN", 3)
	if err != nil {
		return false, err
	}
	if parts[1] != pin {
		return false, unexpected(cmd, strings.Join(parts, " "))
	}

	return ParseLevel(parts[2])
}

func (w *Wrapper) WritePin(ctx context.Context, pin string, high bool) error {
	if !ValidPin(pin) {
		return errors.Wrap(ErrInvalidPin, pin)
	}

	return w.expectOK(ctx, fmt.Sprintf("WRITE_PIN %s %s", pin, Level(high)))
}

// ReadADC returns the raw 10 bit reading of an analog pin.
func (w *Wrapper) ReadADC(ctx context.Context, pin string) (int, error) {
	if !ValidPin(pin) {
		return 0, errors.Wrap(ErrInvalidPin, pin)
	}
	cmd := "READ_ADC " + pin
	parts, err := w.fields(ctx, cmd, "ADC", 3)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(parts[2])
	if err != nil || value < 0 || value > 1023 {
		return 0, unexpected(cmd, strings.Join(parts, " "))
	}

	return value, nil
}

func (w *Wrapper) MeasurePWM(ctx context.Context, pin string) (PWM, error) {
	if !ValidPin(pin) {
		return PWM{}, errors.Wrap(ErrInvalidPin, pin)
	}
	cmd := "MEASURE_PWM " + pin
	parts, err := w.fields(ctx, cmd, "PWM", 4)
	if err != nil {
		return PWM{}, err
	}
	freq, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return PWM{}, unexpected(cmd, strings.Join(parts, " "))
	}
	duty, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return PWM{}, unexpected(cmd, strings.Join(parts, " "))
	}

	return PWM{FrequencyHz: freq, DutyPct: duty}, nil
}

// ModbusRead asks the wrapper to read the holding register at protocol offset addr
// from the target.
func (w *Wrapper) ModbusRead(ctx context.Context, addr uint16) (uint16, error) {
	cmd := fmt.Sprintf("MODBUS_READ %04X", addr)
	parts, err := w.fields(ctx, cmd, "MODBUS", 3)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return 0, unexpected(cmd, strings.Join(parts, " "))
	}

	return uint16(value), nil
}

func (w *Wrapper) ResetTarget(ctx context.Context) error {
	return w.expectOK(ctx, "RESET_TARGET")
}

func (w *Wrapper) SandboxEnter(ctx context.Context) error {
	return w.expectOK(ctx, "SANDBOX_ENTER")
}

func (w *Wrapper) SandboxExit(ctx context.Context) error {
	return w.expectOK(ctx, "SANDBOX_EXIT")
}

// StatusAll returns every pin state known to the wrapper.
func (w *Wrapper) StatusAll(ctx context.Context) (map[string]string, error) {
	reply, err := w.t.Command(ctx, "STATUS_ALL")
	if err != nil {
		return nil, err
	}
	res := map[string]string{}
	err = json.Unmarshal([]byte(reply), &res)
	if err != nil {
		return nil, errors.Wrapf(ErrUnexpectedReply, "STATUS_ALL answered %q: %v", reply, err)
	}

	return res, nil
}
