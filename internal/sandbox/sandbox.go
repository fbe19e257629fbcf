// Package sandbox is the interactive console used to poke the rig by hand.
package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/hil"
	"github.com/askiada/sonicator-hil/internal/modbus"
	"github.com/askiada/sonicator-hil/internal/wrapper"
)

const minWatchInterval = 50 * time.Millisecond

var (
	ErrUsage          = errors.New("usage")
	ErrUnknownCommand = errors.New("unknown command")
)

// Device is the rig with sandbox mode support.
type Device interface {
	hil.Hardware
	SandboxEnter(ctx context.Context) error
	SandboxExit(ctx context.Context) error
}

const help = `commands:
  help                     this text
  ping                     check the wrapper link
  info                     wrapper firmware info
  read <pin>               read a digital pin
  write <pin> <HIGH|LOW>   drive a digital pin
  adc <pin>                read an analog pin
  pwm <pin>                measure PWM on a pin
  mb read <addr>           read a holding register (40001 style or offset)
  mb write <addr> <value>  write a holding register
  status                   all pin states
  watch <interval>         print pin states every interval (e.g. 500ms)
  unwatch                  stop watching
  reset                    reset the target
  quit                     leave the sandbox`

// syncWriter serialises writes of the console and the watch goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.w.Write(p)
}

// Session is one sandbox console.
type Session struct {
	dev Device
	out io.Writer

	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	warn    *pterm.PrefixPrinter
	fail    *pterm.PrefixPrinter

	watchStop chan struct{}
	watchDone chan struct{}
}

// New returns a session on dev printing to out.
func New(dev Device, out io.Writer) *Session {
	w := &syncWriter{w: out}

	return &Session{
		dev:     dev,
		out:     w,
		info:    pterm.Info.WithWriter(w),
		success: pterm.Success.WithWriter(w),
		warn:    pterm.Warning.WithWriter(w),
		fail:    pterm.Error.WithWriter(w),
	}
}

// Run enters sandbox mode, executes the lines of in until quit or EOF, then stops
// the watcher and leaves sandbox mode.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	err := s.dev.SandboxEnter(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to enter sandbox")
	}
	s.success.Println("sandbox ready, type help for commands")
	defer func() {
		s.Unwatch()
		exitErr := s.dev.SandboxExit(context.Background())
		if exitErr != nil {
			glog.Warningf("unable to leave sandbox: %v", exitErr)
		}
	}()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "hil> ")
		if !scanner.Scan() {
			return errors.Wrap(scanner.Err(), "unable to read command")
		}
		quit, err := s.Exec(ctx, scanner.Text())
		if err != nil {
			s.fail.Println(err.Error())
		}
		if quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Exec runs one command line. quit is true for quit and exit.
func (s *Session) Exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, help)
	case "ping":
		err = s.dev.Ping(ctx)
		if err == nil {
			s.success.Println("pong")
		}
	case "info":
		var info string
		info, err = s.dev.Info(ctx)
		if err == nil {
			s.info.Println(info)
		}
	case "read":
		err = s.read(ctx, args)
	case "write":
		err = s.write(ctx, args)
	case "adc":
		err = s.adc(ctx, args)
	case "pwm":
		err = s.pwm(ctx, args)
	case "mb":
		err = s.modbus(args)
	case "status":
		err = s.status(ctx)
	case "watch":
		err = s.watch(ctx, args)
	case "unwatch":
		if s.Unwatch() {
			s.info.Println("watch stopped")
		}
	case "reset":
		err = s.dev.ResetTarget(ctx)
		if err == nil {
			s.success.Println("target reset")
		}
	default:
		err = errors.Wrap(ErrUnknownCommand, cmd)
	}

	return false, err
}

func usage(text string) error {
	return errors.Wrap(ErrUsage, text)
}

func (s *Session) read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("read <pin>")
	}
	pin := strings.ToUpper(args[0])
	high, err := s.dev.ReadPin(ctx, pin)
	if err != nil {
		return err
	}
	s.info.Printfln("%s %s", pin, wrapper.Level(high))

	return nil
}

func (s *Session) write(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("write <pin> <HIGH|LOW>")
	}
	pin := strings.ToUpper(args[0])
	high, err := wrapper.ParseLevel(args[1])
	if err != nil {
		return err
	}
	err = s.dev.WritePin(ctx, pin, high)
	if err != nil {
		return err
	}
	s.success.Printfln("%s <- %s", pin, wrapper.Level(high))

	return nil
}

func (s *Session) adc(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("adc <pin>")
	}
	pin := strings.ToUpper(args[0])
	v, err := s.dev.ReadADC(ctx, pin)
	if err != nil {
		return err
	}
	s.info.Printfln("%s = %d (%.2f V)", pin, v, float64(v)*5/1023)

	return nil
}

func (s *Session) pwm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("pwm <pin>")
	}
	pin := strings.ToUpper(args[0])
	p, err := s.dev.MeasurePWM(ctx, pin)
	if err != nil {
		return err
	}
	s.info.Printfln("%s %.1f Hz %.1f%%", pin, p.FrequencyHz, p.DutyPct)

	return nil
}

// parseRegister accepts a 4xxxx reference or a protocol offset.
func parseRegister(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(modbus.ErrInvalidAddress, "%q", s)
	}
	if v >= 40001 {
		return modbus.Offset(uint16(v))
	}

	return uint16(v), nil
}

func registerName(offset uint16) string {
	reg, err := modbus.Lookup(modbus.Ref(offset))
	if err != nil {
		return "unmapped"
	}

	return reg.Name()
}

func (s *Session) modbus(args []string) error {
	regs := s.dev.Registers()
	if regs == nil {
		return hil.ErrNoRegisters
	}
	switch {
	case len(args) == 2 && args[0] == "read":
		addr, err := parseRegister(args[1])
		if err != nil {
			return err
		}
		v, err := regs.ReadHolding(addr)
		if err != nil {
			return err
		}
		s.info.Printfln("%d (%s) = %d", modbus.Ref(addr), registerName(addr), v)
	case len(args) == 3 && args[0] == "write":
		addr, err := parseRegister(args[1])
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(args[2], 0, 16)
		if err != nil {
			return usage("mb write <addr> <value 0-65535>")
		}
		err = regs.WriteHolding(addr, uint16(v))
		if err != nil {
			return err
		}
		s.success.Printfln("%d (%s) <- %d", modbus.Ref(addr), registerName(addr), v)
	default:
		return usage("mb read <addr> | mb write <addr> <value>")
	}

	return nil
}

func formatStatus(status map[string]string) string {
	pins := make([]string, 0, len(status))
	for pin := range status {
		pins = append(pins, pin)
	}
	sort.Strings(pins)
	parts := make([]string, len(pins))
	for i, pin := range pins {
		parts[i] = pin + "=" + status[pin]
	}

	return strings.Join(parts, " ")
}

func (s *Session) status(ctx context.Context) error {
	status, err := s.dev.StatusAll(ctx)
	if err != nil {
		return err
	}
	pins := make([]string, 0, len(status))
	for pin := range status {
		pins = append(pins, pin)
	}
	sort.Strings(pins)
	data := pterm.TableData{{"Pin", "State"}}
	for _, pin := range pins {
		data = append(data, []string{pin, status[pin]})
	}

	return errors.Wrap(pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(s.out).Render(), "unable to render status")
}

func (s *Session) watch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("watch <interval>")
	}
	interval, err := time.ParseDuration(args[0])
	if err != nil {
		return usage("watch <interval>, e.g. 500ms")
	}
	if interval < minWatchInterval {
		interval = minWatchInterval
	}
	s.Unwatch()

	stop := make(chan struct{})
	done := make(chan struct{})
	s.watchStop, s.watchDone = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				status, err := s.dev.StatusAll(ctx)
				if err != nil {
					s.warn.Printfln("watch: %v", err)

					continue
				}
				fmt.Fprintf(s.out, "[%s] %s\n", time.Now().Format("15:04:05.000"), formatStatus(status))
			}
		}
	}()
	s.info.Printfln("watching every %s", interval)

	return nil
}

// Unwatch stops the watcher and waits for it. It reports whether one was running.
func (s *Session) Unwatch() bool {
	if s.watchStop == nil {
		return false
	}
	close(s.watchStop)
	<-s.watchDone
	s.watchStop, s.watchDone = nil, nil

	return true
}
