// Package signals generates the digital and analog waveforms injected into the
// DUT inputs and measures the ones it produces.
package signals

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

var ErrNotEnoughEdges = errors.New("not enough edges to measure")

// Generator gives the logic level of a waveform at time t.
type Generator interface {
	Level(t time.Duration) bool
}

// Square is a square wave with a 50% duty cycle.
type Square struct {
	FrequencyHz float64
}

func (s Square) Level(t time.Duration) bool {
	return PWM{FrequencyHz: s.FrequencyHz, DutyPct: 50}.Level(t)
}

// PWM is a rectangular wave high for DutyPct of each period.
type PWM struct {
	FrequencyHz float64
	DutyPct     float64
}

func (p PWM) Level(t time.Duration) bool {
	if p.FrequencyHz <= 0 || p.DutyPct <= 0 {
		return false
	}
	if p.DutyPct >= 100 {
		return true
	}
	phase := math.Mod(t.Seconds()*p.FrequencyHz, 1)

	return phase < p.DutyPct/100
}

// Sine is an analog sine wave. Level is high above Offset.
type Sine struct {
	FrequencyHz float64
	Amplitude   float64
	Offset      float64
	PhaseRad    float64
}

func (s Sine) Value(t time.Duration) float64 {
	return s.Offset + s.Amplitude*math.Sin(2*math.Pi*s.FrequencyHz*t.Seconds()+s.PhaseRad)
}

func (s Sine) Level(t time.Duration) bool {
	return s.Value(t) > s.Offset
}

// Samples evaluates g n times at sampleRate.
func Samples(g Generator, sampleRate float64, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = g.Level(sampleTime(i, sampleRate))
	}

	return out
}

// Values evaluates s n times at sampleRate.
func Values(s Sine, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.Value(sampleTime(i, sampleRate))
	}

	return out
}

// ADCCounts scales values in volts to 10 bit ADC counts against vref.
func ADCCounts(values []float64, vref float64) []int {
	out := make([]int, len(values))
	for i, v := range values {
		c := int(math.Round(v / vref * 1023))
		out[i] = max(0, min(1023, c))
	}

	return out
}

func sampleTime(i int, sampleRate float64) time.Duration {
	return time.Duration(float64(i) / sampleRate * float64(time.Second))
}

// Measurement is the result of FrequencyCounter.
type Measurement struct {
	FrequencyHz float64 `json:"frequency_hz"`
	DutyPct     float64 `json:"duty_pct"`
	Edges       int     `json:"edges"`
}

// FrequencyCounter estimates frequency and duty from samples taken at
// sampleRate. Only whole periods between the first and last rising edge count.
func FrequencyCounter(samples []bool, sampleRate float64) (Measurement, error) {
	rising := []int{}
	for i := 1; i < len(samples); i++ {
		if samples[i] && !samples[i-1] {
			rising = append(rising, i)
		}
	}
	if len(rising) < 2 {
		return Measurement{Edges: len(rising)}, errors.Wrapf(ErrNotEnoughEdges, "%d rising edges", len(rising))
	}
	first, last := rising[0], rising[len(rising)-1]
	periods := len(rising) - 1
	high := 0
	for _, s := range samples[first:last] {
		if s {
			high++
		}
	}
	span := float64(last - first)

	return Measurement{
		FrequencyHz: float64(periods) * sampleRate / span,
		DutyPct:     float64(high) / span * 100,
		Edges:       len(rising),
	}, nil
}

// Within reports whether got is within tolPct percent of want.
func Within(got, want, tolPct float64) bool {
	if want == 0 {
		return got == 0
	}

	return math.Abs(got-want)/math.Abs(want)*100 <= tolPct
}
