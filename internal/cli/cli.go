// Package cli holds the flag and exit code conventions shared by the commands.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/config"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitSkipped also reports usage errors.
	ExitSkipped = 2
)

// Common are the flags every command accepts.
type Common struct {
	ConfigPath string
	mapping    map[string]string
	fs         *flag.FlagSet
}

// Register adds the common flags to fs: -config, -port, -baud, -output,
// -hardware-config and -force-simulation.
func Register(fs *flag.FlagSet) *Common {
	c := &Common{
		fs: fs,
		mapping: map[string]string{
			"port":             "serial.port",
			"baud":             "serial.baud",
			"output":           "output.dir",
			"hardware-config":  "hardware.config",
			"force-simulation": "simulation.force",
		},
	}
	fs.StringVar(&c.ConfigPath, "config", "", "JSON config file (default "+config.DefaultFile+" when present)")
	fs.String("port", "", "test wrapper serial port, detected when empty")
	fs.Int("baud", 115200, "test wrapper baud rate")
	fs.String("output", "artifacts", "output directory")
	fs.String("hardware-config", "", "hardware_config.yaml overriding the built-in rig description")
	fs.Bool("force-simulation", false, "never touch hardware")

	return c
}

// Map binds an extra flag of the set to a dotted config key.
func (c *Common) Map(flagName, key string) {
	c.mapping[flagName] = key
}

// Load resolves the settings and the rig description.
func (c *Common) Load() (*config.Settings, *config.HardwareConfig, error) {
	settings, err := config.Load(c.ConfigPath, config.FlagOverrides(c.fs, c.mapping))
	if err != nil {
		return nil, nil, err
	}
	hw, err := config.LoadHardwareConfig(settings.Hardware)
	if err != nil {
		return nil, nil, err
	}
	glog.V(1).Infof("settings: %+v", *settings)

	return settings, hw, nil
}

// Output returns name inside the output directory.
func Output(settings *config.Settings, name string) string {
	return filepath.Join(settings.OutputDir, name)
}

// Context is cancelled on SIGINT or SIGTERM.
func Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Fail prints err and returns ExitFailure.
func Fail(err error) int {
	glog.Errorf("%+v", err)
	pterm.Error.WithWriter(os.Stderr).Println(err.Error())

	return ExitFailure
}

// Usage prints the usage of fs with msg and returns ExitSkipped.
func Usage(fs *flag.FlagSet, msg string) int {
	fmt.Fprintln(fs.Output(), msg)
	fs.Usage()

	return ExitSkipped
}
