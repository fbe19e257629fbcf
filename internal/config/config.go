// Package config loads the settings shared by every HIL command.
//
// Values are resolved from, in order of priority, flags explicitly set on the
// command line, HIL_ prefixed environment variables, an optional JSON file and
// built-in defaults. Keys are dotted paths such as "modbus.slave"; the matching
// environment variable is HIL_MODBUS_SLAVE.
package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/blob/loader/file"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"
	"github.com/warthog618/config/list"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "HIL_"

// DefaultFile is read when no config file is given and it exists.
const DefaultFile = "hil.json"

// SerialSettings configures the link to the Arduino test wrapper.
type SerialSettings struct {
	Port    string
	Baud    int
	Timeout time.Duration
}

// ModbusSettings configures the MODBUS RTU master talking to the DUT.
type ModbusSettings struct {
	Port    string
	Baud    int
	SlaveID byte
	Timeout time.Duration
	Retries int
}

// ProgrammerSettings configures avrdude and the Arduino-as-ISP sketch.
type ProgrammerSettings struct {
	Tool       string
	Programmer string
	Port       string
	Baud       int
	Part       string
	LFuse      string
	HFuse      string
	ArduinoCLI string
	FQBN       string
	Timeout    time.Duration
}

type SafetySettings struct {
	Budget time.Duration
}

type SimulationSettings struct {
	Force bool
}

// Settings is the resolved configuration.
type Settings struct {
	Serial     SerialSettings
	Modbus     ModbusSettings
	Programmer ProgrammerSettings
	Safety     SafetySettings
	Simulation SimulationSettings
	OutputDir  string
	Hardware   string
}

// Defaults returns the built-in configuration tree.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"serial": map[string]interface{}{
			"port":    "",
			"baud":    115200,
			"timeout": "2s",
		},
		"modbus": map[string]interface{}{
			"port":    "",
			"baud":    115200,
			"slave":   2,
			"timeout": "1s",
			"retries": 3,
		},
		"programmer": map[string]interface{}{
			"tool":       "avrdude",
			"programmer": "stk500v1",
			"port":       "",
			"baud":       19200,
			"part":       "m32",
			"lfuse":      "0xE4",
			"hfuse":      "0xD9",
			"arduinocli": "arduino-cli",
			"fqbn":       "arduino:avr:uno",
			"timeout":    "60s",
		},
		"safety": map[string]interface{}{
			"budget": "100ms",
		},
		"simulation": map[string]interface{}{
			"force": false,
		},
		"output": map[string]interface{}{
			"dir": "artifacts",
		},
		"hardware": map[string]interface{}{
			"config": "",
		},
	}
}

// Load resolves the settings. path names a JSON config file that must exist; an
// empty path falls back to DefaultFile when present. overrides usually comes from
// FlagOverrides and may be nil.
func Load(path string, overrides map[string]interface{}) (*Settings, error) {
	if overrides == nil {
		overrides = map[string]interface{}{}
	}

	oget := dict.New(dict.WithMap(overrides))
	// ports and board names carry ':' so only ',' splits env lists
	eget := env.New(env.WithEnvPrefix(EnvPrefix), env.WithListSplitter(list.NewSplitter(",")))
	// highest priority sources first
	sources := config.NewStack(oget, eget)

	if path != "" {
		fget, err := loadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read config file %s", path)
		}
		sources.Append(fget)
	} else {
		fget, err := loadFile(DefaultFile)
		switch {
		case err == nil:
			sources.Append(fget)
		case !errors.Is(err, os.ErrNotExist):
			return nil, errors.Wrapf(err, "unable to read config file %s", DefaultFile)
		}
	}

	cfg := config.New(sources,
		config.WithDefault(dict.New(dict.WithMap(Defaults()))),
		config.WithMust(),
	)
	defer cfg.Close()

	return decode(cfg)
}

func loadFile(path string) (*blob.Getter, error) {
	var loadErr error
	fget := blob.New(file.New(path), json.NewDecoder(), blob.WithErrorHandler(func(err error) {
		loadErr = err
	}))
	if loadErr != nil {
		return nil, loadErr
	}

	return fget, nil
}

func decode(cfg *config.Config) (settings *Settings, err error) {
	// the config panics on missing keys and conversion errors, turn them back into an error
	defer func() {
		if r := recover(); r != nil {
			settings = nil
			err = errors.Errorf("invalid configuration: %v", r)
		}
	}()

	str := func(key string) string { return cfg.MustGet(key).String() }
	num := func(key string) int { return cfg.MustGet(key).Int() }
	dur := func(key string) time.Duration { return cfg.MustGet(key).Duration() }

	slave := cfg.MustGet("modbus.slave").Uint()
	if slave == 0 || slave > 247 {
		return nil, errors.Errorf("invalid modbus slave id %d", slave)
	}

	settings = &Settings{
		Serial: SerialSettings{
			Port:    str("serial.port"),
			Baud:    num("serial.baud"),
			Timeout: dur("serial.timeout"),
		},
		Modbus: ModbusSettings{
			Port:    str("modbus.port"),
			Baud:    num("modbus.baud"),
			SlaveID: byte(slave),
			Timeout: dur("modbus.timeout"),
			Retries: num("modbus.retries"),
		},
		Programmer: ProgrammerSettings{
			Tool:       str("programmer.tool"),
			Programmer: str("programmer.programmer"),
			Port:       str("programmer.port"),
			Baud:       num("programmer.baud"),
			Part:       str("programmer.part"),
			LFuse:      fuse(str("programmer.lfuse")),
			HFuse:      fuse(str("programmer.hfuse")),
			ArduinoCLI: str("programmer.arduinocli"),
			FQBN:       str("programmer.fqbn"),
			Timeout:    dur("programmer.timeout"),
		},
		Safety: SafetySettings{
			Budget: dur("safety.budget"),
		},
		Simulation: SimulationSettings{
			Force: cfg.MustGet("simulation.force").Bool(),
		},
		OutputDir: str("output.dir"),
		Hardware:  str("hardware.config"),
	}

	return settings, nil
}

// fuse normalises a fuse byte to the 0xAB form avrdude is given.
func fuse(v string) string {
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")

	return "0x" + strings.ToUpper(v)
}

// FlagOverrides returns the override tree for the flags of fs that were set on the
// command line. mapping maps a flag name to its dotted config key. Flags left at
// their default value do not override lower priority sources.
func FlagOverrides(fs *flag.FlagSet, mapping map[string]string) map[string]interface{} {
	res := map[string]interface{}{}
	fs.Visit(func(f *flag.Flag) {
		key, ok := mapping[f.Name]
		if !ok {
			return
		}
		setPath(res, strings.Split(key, "."), f.Value.String())
	})

	return res
}

func setPath(tree map[string]interface{}, path []string, value interface{}) {
	if len(path) == 1 {
		tree[path[0]] = value

		return
	}
	child, ok := tree[path[0]].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		tree[path[0]] = child
	}
	setPath(child, path[1:], value)
}
