package wrapper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Banner is printed by the simulator when a connection starts.
const Banner = "HIL test wrapper (simulated) ready"

// RegisterReader reads holding registers by protocol offset.
type RegisterReader interface {
	ReadHolding(addr uint16) (uint16, error)
}

// Simulator implements the wrapper firmware in memory.
type Simulator struct {
	mu        sync.Mutex
	pins      map[string]bool
	adc       map[string]int
	pwm       map[string]PWM
	registers RegisterReader
	sandbox   bool
	resets    int
	onWrite   []func(pin string, high bool)
	onReset   []func()
}

// NewSimulator returns a simulator with every digital pin LOW and every analog
// input at 0. registers answers MODBUS_READ and may be nil.
func NewSimulator(registers RegisterReader) *Simulator {
	sim := &Simulator{
		pins:      map[string]bool{},
		adc:       map[string]int{},
		pwm:       map[string]PWM{},
		registers: registers,
	}
	for i := 0; i <= 13; i++ {
		sim.pins[fmt.Sprintf("D%d", i)] = false
	}
	for i := 0; i <= 5; i++ {
		sim.pins[fmt.Sprintf("A%d", i)] = false
	}

	return sim
}

// OnWrite registers fn to be called after every WRITE_PIN or SetPin.
func (s *Simulator) OnWrite(fn func(pin string, high bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = append(s.onWrite, fn)
}

// OnReset registers fn to be called on RESET_TARGET.
func (s *Simulator) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = append(s.onReset, fn)
}

// SetPin drives pin as if the target did.
func (s *Simulator) SetPin(pin string, high bool) {
	s.mu.Lock()
	s.pins[pin] = high
	hooks := append([]func(string, bool){}, s.onWrite...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(pin, high)
	}
}

func (s *Simulator) Pin(pin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pins[pin]
}

// SetADC sets the raw reading of pin, clamped to 0-1023.
func (s *Simulator) SetADC(pin string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adc[pin] = max(0, min(1023, value))
}

func (s *Simulator) SetPWM(pin string, pwm PWM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwm[pin] = pwm
}

// Resets returns how many RESET_TARGET commands were received.
func (s *Simulator) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.resets
}

func (s *Simulator) InSandbox() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sandbox
}

// Handle answers one command line.
func (s *Simulator) Handle(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR empty command"
	}

	cmd, args := strings.ToUpper(fields[0]), fields[1:]
	switch cmd {
	case "PING":
		return "OK"
	case "INFO":
		return "OK HIL-WRAPPER-SIM v1.0 target=ATmega32A"
	case "READ_PIN":
		if len(args) != 1 || !ValidPin(args[0]) {
			return "ERR invalid pin"
		}

		return fmt.Sprintf("PIN %s %s", args[0], Level(s.Pin(args[0])))
	case "WRITE_PIN":
		if len(args) != 2 || !ValidPin(args[0]) {
			return "ERR invalid pin"
		}
		high, err := ParseLevel(args[1])
		if err != nil {
			return "ERR invalid level"
		}
		s.SetPin(args[0], high)

		return "OK"
	case "READ_ADC":
		if len(args) != 1 || !ValidPin(args[0]) || args[0][0] != 'A' {
			return "ERR invalid analog pin"
		}
		s.mu.Lock()
		value := s.adc[args[0]]
		s.mu.Unlock()

		return fmt.Sprintf("ADC %s %d", args[0], value)
	case "MEASURE_PWM":
		if len(args) != 1 || !ValidPin(args[0]) {
			return "ERR invalid pin"
		}
		s.mu.Lock()
		pwm := s.pwm[args[0]]
		s.mu.Unlock()

		return fmt.Sprintf("PWM %s %s %s", args[0], formatFloat(pwm.FrequencyHz), formatFloat(pwm.DutyPct))
	case "MODBUS_READ":
		return s.modbusRead(args)
	case "RESET_TARGET":
		s.mu.Lock()
		s.resets++
		hooks := append([]func(){}, s.onReset...)
		s.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}

		return "OK"
	case "SANDBOX_ENTER", "SANDBOX_EXIT":
		s.mu.Lock()
		s.sandbox = cmd == "SANDBOX_ENTER"
		s.mu.Unlock()

		return "OK"
	case "STATUS_ALL":
		s.mu.Lock()
		status := make(map[string]string, len(s.pins))
		for pin, high := range s.pins {
			status[pin] = Level(high)
		}
		s.mu.Unlock()
		data, err := json.Marshal(status)
		if err != nil {
			return "ERR " + err.Error()
		}

		return string(data)
	default:
		return "ERR unknown command " + cmd
	}
}

func (s *Simulator) modbusRead(args []string) string {
	if len(args) != 1 {
		return "ERR missing address"
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(args[0]), "0x"), 16, 16)
	if err != nil {
		return "ERR invalid address"
	}
	if s.registers == nil {
		return "ERR modbus unavailable"
	}
	value, err := s.registers.ReadHolding(uint16(addr))
	if err != nil {
		return "ERR " + err.Error()
	}

	return fmt.Sprintf("MODBUS %04X %d", addr, value)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Serve prints the banner then answers commands read from conn until it is closed.
func (s *Simulator) Serve(conn io.ReadWriter) error {
	_, err := io.WriteString(conn, Banner+"\n")
	if err != nil {
		return err
	}

	return s.serve(conn)
}

func (s *Simulator) serve(conn io.ReadWriter) error {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.Handle(line)
		glog.V(2).Infof("simulator %q -> %q", line, reply)
		_, err := io.WriteString(conn, reply+"\n")
		if err != nil {
			return err
		}
	}

	return scanner.Err()
}

// Connect serves the simulator over an in-memory pipe and returns a client
// connected to it. No banner is printed. Closing the client stops the simulator.
func (s *Simulator) Connect(opts ...ClientOption) *Client {
	host, device := net.Pipe()
	go func() {
		defer device.Close()
		err := s.serve(device)
		if err != nil {
			glog.V(1).Infof("simulator stopped: %v", err)
		}
	}()

	return NewClient(host, opts...)
}
