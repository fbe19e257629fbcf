// Package programmer drives avrdude through an Arduino-as-ISP to flash and fuse the
// ATmega32A.
package programmer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/procexec"
)

// ATmega32ASignature is the device signature avrdude reports for the target.
const ATmega32ASignature = "1E9502"

const (
	portAttempts = 3
	portDelay    = 500 * time.Millisecond
)

var (
	ErrPortBusy          = errors.New("programmer port busy")
	ErrSignatureMismatch = errors.New("device signature mismatch")
	ErrNoSignature       = errors.New("no device signature in avrdude output")
	ErrToolFailed        = errors.New("programming tool failed")
)

var signatureRe = regexp.MustCompile(`(?i)device signature = 0x([0-9a-f]{6})`)

// PortReleaser makes sure nothing holds port before avrdude opens it.
type PortReleaser func(ctx context.Context, port string, baud int) error

// Programmer runs avrdude and arduino-cli.
type Programmer struct {
	Settings config.ProgrammerSettings
	Runner   procexec.Runner
	Release  PortReleaser
}

// New returns a Programmer using real subprocesses and serial ports.
func New(settings config.ProgrammerSettings) *Programmer {
	return &Programmer{Settings: settings, Runner: procexec.Exec{}, Release: ReleasePort}
}

// ReleasePort opens port and toggles DTR so a previous owner lets go of the
// Arduino. It retries a fixed number of times before reporting ErrPortBusy.
func ReleasePort(ctx context.Context, port string, baud int) error {
	var lastErr error
	for attempt := 1; attempt <= portAttempts; attempt++ {
		p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
		if err == nil {
			_ = p.SetDTR(false)
			time.Sleep(50 * time.Millisecond)
			_ = p.SetDTR(true)
			_ = p.ResetInputBuffer()

			return errors.Wrapf(p.Close(), "unable to close %s", port)
		}
		lastErr = err
		glog.Warningf("port %s busy (attempt %d/%d): %v", port, attempt, portAttempts, err)
		if attempt == portAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(portDelay):
		}
	}

	return errors.Wrapf(ErrPortBusy, "%s: %v", port, lastErr)
}

func (p *Programmer) avrdudeArgs(extra ...string) []string {
	args := []string{"-c", p.Settings.Programmer, "-p", p.Settings.Part}
	if p.Settings.Port != "" {
		args = append(args, "-P", p.Settings.Port)
	}
	if p.Settings.Baud > 0 {
		args = append(args, "-b", fmt.Sprint(p.Settings.Baud))
	}

	return append(args, extra...)
}

func (p *Programmer) run(ctx context.Context, name string, args []string) (procexec.Result, error) {
	res, err := p.Runner.Run(ctx, procexec.Cmd{Name: name, Args: args, Timeout: p.Settings.Timeout})
	if err != nil {
		return res, err
	}
	if res.TimedOut {
		return res, errors.Wrapf(ErrToolFailed, "%s timed out after %s", name, p.Settings.Timeout)
	}
	if res.ExitCode != 0 {
		return res, errors.Wrapf(ErrToolFailed, "%s exited with %d: %s", name, res.ExitCode, lastLine(res.Output))
	}

	return res, nil
}

func (p *Programmer) avrdude(ctx context.Context, extra ...string) (procexec.Result, error) {
	if p.Settings.Port != "" && p.Release != nil {
		err := p.Release(ctx, p.Settings.Port, p.Settings.Baud)
		if err != nil {
			return procexec.Result{}, err
		}
	}

	return p.run(ctx, p.Settings.Tool, p.avrdudeArgs(extra...))
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")

	return strings.TrimSpace(lines[len(lines)-1])
}

// InstallISP compiles and uploads the ArduinoISP sketch in sketchDir to the
// programmer board.
func (p *Programmer) InstallISP(ctx context.Context, sketchDir string) error {
	_, err := p.run(ctx, p.Settings.ArduinoCLI, []string{"compile", "--fqbn", p.Settings.FQBN, sketchDir})
	if err != nil {
		return errors.Wrap(err, "unable to compile ArduinoISP")
	}
	if p.Settings.Port != "" && p.Release != nil {
		err = p.Release(ctx, p.Settings.Port, p.Settings.Baud)
		if err != nil {
			return err
		}
	}
	_, err = p.run(ctx, p.Settings.ArduinoCLI, []string{"upload", "-p", p.Settings.Port, "--fqbn", p.Settings.FQBN, sketchDir})

	return errors.Wrap(err, "unable to upload ArduinoISP")
}

// ReadSignature returns the device signature as six upper case hex digits and
// checks it against the ATmega32A.
func (p *Programmer) ReadSignature(ctx context.Context) (string, error) {
	res, err := p.avrdude(ctx)
	if err != nil {
		return "", errors.Wrap(err, "unable to read signature")
	}
	m := signatureRe.FindStringSubmatch(res.Output)
	if m == nil {
		return "", ErrNoSignature
	}
	sig := strings.ToUpper(m[1])
	if sig != ATmega32ASignature {
		return sig, errors.Wrapf(ErrSignatureMismatch, "got %s, expected %s", sig, ATmega32ASignature)
	}

	return sig, nil
}

// Flash validates hexPath and writes it to flash. avrdude verifies the write.
func (p *Programmer) Flash(ctx context.Context, hexPath string) (HexInfo, error) {
	info, err := ValidateHexFile(hexPath)
	if err != nil {
		return info, err
	}
	glog.Infof("flashing %s: %d bytes in %d records", hexPath, info.DataBytes, info.Records)
	_, err = p.avrdude(ctx, "-U", "flash:w:"+hexPath+":i")

	return info, errors.Wrap(err, "unable to flash")
}

// WriteFuses programs the configured low and high fuses.
func (p *Programmer) WriteFuses(ctx context.Context) error {
	_, err := p.avrdude(ctx,
		"-U", "lfuse:w:"+p.Settings.LFuse+":m",
		"-U", "hfuse:w:"+p.Settings.HFuse+":m",
	)

	return errors.Wrap(err, "unable to write fuses")
}

// Erase performs a chip erase.
func (p *Programmer) Erase(ctx context.Context) error {
	_, err := p.avrdude(ctx, "-e")

	return errors.Wrap(err, "unable to erase chip")
}
