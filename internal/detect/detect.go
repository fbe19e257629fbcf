// Package detect finds the HIL test wrapper among the serial ports of the host and
// decides whether downstream jobs run against hardware or the simulator.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/pkg/pipeline"
)

// SimulationEnv forces simulation when set to a true value.
const SimulationEnv = "HIL_SIMULATION"

// ResultFile is the default name of the detection report.
const ResultFile = "hardware_detection.json"

// PortInfo is an enumerated serial port.
type PortInfo struct {
	Name    string `json:"name"`
	USB     bool   `json:"usb"`
	VID     string `json:"vid,omitempty"`
	PID     string `json:"pid,omitempty"`
	Serial  string `json:"serial_number,omitempty"`
	Product string `json:"product,omitempty"`
}

// Match is a port matching a known signature.
type Match struct {
	Port       PortInfo `json:"port"`
	Device     string   `json:"device"`
	Wrapper    bool     `json:"wrapper"`
	CommTested bool     `json:"communication_tested"`
	CommOK     bool     `json:"communication_ok"`
	Info       string   `json:"info,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Result is written to hardware_detection.json.
type Result struct {
	Timestamp       time.Time  `json:"timestamp"`
	Ports           []PortInfo `json:"ports"`
	Matches         []Match    `json:"matches"`
	SelectedPort    string     `json:"selected_port,omitempty"`
	SelectedDevice  string     `json:"selected_device,omitempty"`
	CommunicationOK bool       `json:"communication_ok"`
	Simulation      bool       `json:"simulation"`
	Reason          string     `json:"reason"`
}

// Prober checks that a port answers the wrapper protocol and returns its INFO text.
type Prober func(ctx context.Context, port string) (string, error)

// Detector enumerates, matches and probes serial ports.
type Detector struct {
	Signatures []config.DeviceSignature
	// Enumerate lists the ports, enumerator.GetDetailedPortsList when nil.
	Enumerate func() ([]*enumerator.PortDetails, error)
	// Probe is used when TestCommunication is set.
	Probe             Prober
	TestCommunication bool
	ForceSimulation   bool
	Concurrency       int
	now               func() time.Time
}

// New returns a detector for signatures probing with probe.
func New(signatures []config.DeviceSignature, probe Prober) *Detector {
	return &Detector{
		Signatures:        signatures,
		Enumerate:         enumerator.GetDetailedPortsList,
		Probe:             probe,
		TestCommunication: probe != nil,
		Concurrency:       4,
		now:               time.Now,
	}
}

// SimulationRequested reports whether HIL_SIMULATION asks for simulation.
func SimulationRequested() bool {
	v, ok := os.LookupEnv(SimulationEnv)
	if !ok {
		return false
	}
	force, err := strconv.ParseBool(strings.TrimSpace(v))

	return err == nil && force
}

func normHex(s string) string {
	return strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "0X")
}

// matchSignature returns the first signature matching port.
func matchSignature(port PortInfo, signatures []config.DeviceSignature) (config.DeviceSignature, bool) {
	for _, sig := range signatures {
		if !port.USB || normHex(port.VID) != normHex(sig.VID) || normHex(port.PID) != normHex(sig.PID) {
			continue
		}
		if sig.Product != "" && !strings.Contains(strings.ToLower(port.Product), strings.ToLower(sig.Product)) {
			continue
		}

		return sig, true
	}

	return config.DeviceSignature{}, false
}

// Detect runs the detection. It only fails when ports cannot be enumerated.
func (d *Detector) Detect(ctx context.Context) (*Result, error) {
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	res := &Result{Timestamp: now().UTC(), Ports: []PortInfo{}, Matches: []Match{}}

	if d.ForceSimulation || SimulationRequested() {
		res.Simulation = true
		res.Reason = "simulation forced"

		return res, nil
	}

	enumerate := d.Enumerate
	if enumerate == nil {
		enumerate = enumerator.GetDetailedPortsList
	}
	details, err := enumerate()
	if err != nil {
		return nil, errors.Wrap(err, "unable to enumerate serial ports")
	}

	matches := []Match{}
	for _, detail := range details {
		port := PortInfo{
			Name:    detail.Name,
			USB:     detail.IsUSB,
			VID:     detail.VID,
			PID:     detail.PID,
			Serial:  detail.SerialNumber,
			Product: detail.Product,
		}
		res.Ports = append(res.Ports, port)
		if sig, ok := matchSignature(port, d.Signatures); ok {
			glog.Infof("port %s matches %s", port.Name, sig.Name)
			matches = append(matches, Match{Port: port, Device: sig.Name, Wrapper: sig.Wrapper})
		}
	}

	if len(matches) > 0 && d.TestCommunication && d.Probe != nil {
		matches, err = d.probeAll(ctx, matches)
		if err != nil {
			return nil, err
		}
	}
	res.Matches = matches

	d.choose(res)

	return res, nil
}

// probeAll pings every match concurrently. Probe failures are recorded on the
// match, only pipeline failures are returned.
func (d *Detector) probeAll(ctx context.Context, matches []Match) ([]Match, error) {
	pipe, err := pipeline.New(ctx)
	if err != nil {
		return nil, err
	}
	src, err := pipeline.AddSliceSource(pipe, "matches", matches)
	if err != nil {
		return nil, err
	}
	probed, err := pipeline.AddStage(pipe, "probe", src, func(ctx context.Context, m Match) (Match, error) {
		m.CommTested = true
		info, err := d.Probe(ctx, m.Port.Name)
		if err != nil {
			glog.Warningf("port %s did not answer: %v", m.Port.Name, err)
			m.Error = err.Error()

			return m, nil
		}
		m.CommOK = true
		m.Info = info

		return m, nil
	}, pipeline.StageConcurrency(max(1, d.Concurrency)))
	if err != nil {
		return nil, err
	}
	res, err := pipeline.Collect(pipe, "collect", probed)
	if err != nil {
		return nil, err
	}
	err = pipe.Run()
	if err != nil {
		return nil, errors.Wrap(err, "unable to probe ports")
	}

	// keep enumeration order whatever the probe completion order
	order := make(map[string]int, len(matches))
	for i, m := range matches {
		order[m.Port.Name] = i
	}
	sorted := make([]Match, len(matches))
	for _, m := range *res {
		sorted[order[m.Port.Name]] = m
	}

	return sorted, nil
}

func (d *Detector) choose(res *Result) {
	if len(res.Matches) == 0 {
		res.Simulation = true
		res.Reason = "no known device found"

		return
	}

	best := -1
	score := -1
	for i, m := range res.Matches {
		s := 0
		if m.Wrapper {
			s++
		}
		if m.CommOK {
			s += 2
		}
		if s > score {
			best, score = i, s
		}
	}
	sel := res.Matches[best]
	res.SelectedPort = sel.Port.Name
	res.SelectedDevice = sel.Device
	res.CommunicationOK = sel.CommOK

	switch {
	case sel.CommTested && !sel.CommOK:
		res.Simulation = true
		res.Reason = fmt.Sprintf("%s found on %s but did not answer", sel.Device, sel.Port.Name)
	case sel.CommOK:
		res.Reason = fmt.Sprintf("%s answering on %s", sel.Device, sel.Port.Name)
	default:
		res.Reason = fmt.Sprintf("%s found on %s, communication not tested", sel.Device, sel.Port.Name)
	}
}

// WriteJSON writes res to path, creating its directory.
func WriteJSON(path string, res *Result) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", filepath.Dir(path))
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode detection result")
	}
	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to write %s", path)
	}

	return nil
}

// ExportSimulationFlag appends HIL_SIMULATION=<bool> to the env file at path, as
// read by CI runners between steps.
func ExportSimulationFlag(path string, res *Result) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to open env file %s", path)
	}
	defer file.Close()

	_, err = fmt.Fprintf(file, "%s=%t\n", SimulationEnv, res.Simulation)
	if err != nil {
		return errors.Wrapf(err, "unable to write env file %s", path)
	}

	return nil
}
