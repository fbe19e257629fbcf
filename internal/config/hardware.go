package config

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Pin roles wired for a sonicator unit.
const (
	RoleStart     = "start"
	RoleOverload  = "overload"
	RoleReset     = "reset"
	RoleFreqLock  = "freq_lock"
	RoleFreqDiv   = "freq_div"
	RoleAmplitude = "amplitude"
	RolePower     = "power"
)

// DeviceSignature identifies a USB serial device.
type DeviceSignature struct {
	Name    string `yaml:"name" json:"name"`
	VID     string `yaml:"vid" json:"vid"`
	PID     string `yaml:"pid" json:"pid"`
	Product string `yaml:"product,omitempty" json:"product,omitempty"`
	// Wrapper marks devices expected to run the test wrapper firmware.
	Wrapper bool `yaml:"wrapper" json:"wrapper"`
}

// SonicatorWiring maps the roles of one unit to test wrapper pins.
type SonicatorWiring struct {
	Unit  int               `yaml:"unit"`
	Wired bool              `yaml:"wired"`
	Pins  map[string]string `yaml:"pins"`
}

// HardwareConfig describes the HIL rig.
type HardwareConfig struct {
	Target struct {
		MCU       string `yaml:"mcu"`
		Signature string `yaml:"signature"`
		ClockHz   int    `yaml:"clock_hz"`
	} `yaml:"target"`
	Sonicators []SonicatorWiring `yaml:"sonicators"`
	Signatures []DeviceSignature `yaml:"signatures"`
	Pins       map[string]string `yaml:"pins"`
}

const defaultHardwareYAML = `
target:
  mcu: ATmega32A
  signature: 1E 95 02
  clock_hz: 8000000
pins:
  uart_rx: D0
  uart_tx: D1
sonicators:
  - unit: 1
    wired: false
  - unit: 2
    wired: false
  - unit: 3
    wired: false
  - unit: 4
    wired: true
    pins:
      start: D7
      overload: A3
      reset: A2
      freq_lock: D8
      freq_div: D9
      amplitude: D6
      power: A1
signatures:
  - name: Arduino Uno
    vid: "2341"
    pid: "0043"
    wrapper: true
  - name: Arduino Uno R3 (CH340)
    vid: "1A86"
    pid: "7523"
    wrapper: true
  - name: Arduino Mega 2560
    vid: "2341"
    pid: "0042"
    wrapper: true
  - name: FTDI USB serial
    vid: "0403"
    pid: "6001"
    product: FT232
  - name: CP210x USB serial
    vid: "10C4"
    pid: "EA60"
`

// DefaultHardwareConfig returns the built-in rig description.
func DefaultHardwareConfig() *HardwareConfig {
	res := &HardwareConfig{}
	if err := yaml.Unmarshal([]byte(defaultHardwareYAML), res); err != nil {
		panic(err)
	}

	return res
}

// LoadHardwareConfig reads the YAML rig description at path merged over the
// built-in one. An empty path returns the defaults.
func LoadHardwareConfig(path string) (*HardwareConfig, error) {
	base := map[string]interface{}{}
	err := yaml.Unmarshal([]byte(defaultHardwareYAML), &base)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse default hardware config")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read hardware config %s", path)
		}
		user := map[string]interface{}{}
		err = yaml.Unmarshal(data, &user)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to parse hardware config %s", path)
		}
		base = MergeMaps(base, user)
	}

	merged, err := yaml.Marshal(base)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode hardware config")
	}
	res := &HardwareConfig{}
	err = yaml.Unmarshal(merged, res)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode hardware config")
	}

	return res, res.Validate()
}

// Validate checks that units are in range and unique.
func (hc *HardwareConfig) Validate() error {
	seen := map[int]bool{}
	for _, s := range hc.Sonicators {
		if s.Unit < 1 || s.Unit > 4 {
			return errors.Errorf("invalid sonicator unit %d", s.Unit)
		}
		if seen[s.Unit] {
			return errors.Errorf("duplicate sonicator unit %d", s.Unit)
		}
		seen[s.Unit] = true
	}

	return nil
}

// Unit returns the wiring of unit, or false when it is not described.
func (hc *HardwareConfig) Unit(unit int) (SonicatorWiring, bool) {
	for _, s := range hc.Sonicators {
		if s.Unit == unit {
			return s, true
		}
	}

	return SonicatorWiring{}, false
}

// WiredUnits returns the wired units in ascending order.
func (hc *HardwareConfig) WiredUnits() []int {
	res := []int{}
	for _, s := range hc.Sonicators {
		if s.Wired {
			res = append(res, s.Unit)
		}
	}
	sort.Ints(res)

	return res
}

// Pin returns the wrapper pin wired to role on unit.
func (hc *HardwareConfig) Pin(unit int, role string) (string, error) {
	s, ok := hc.Unit(unit)
	if !ok || !s.Wired {
		return "", errors.Errorf("sonicator unit %d is not wired", unit)
	}
	pin, ok := s.Pins[role]
	if !ok || pin == "" {
		return "", errors.Errorf("sonicator unit %d has no %s pin", unit, role)
	}

	return pin, nil
}
