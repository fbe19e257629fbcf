package signals

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// PinWriter drives a digital pin.
type PinWriter interface {
	WritePin(ctx context.Context, pin string, high bool) error
}

// Injector writes the levels of a generator to a pin on a ticker.
type Injector struct {
	Writer    PinWriter
	Pin       string
	Generator Generator
	// Interval is the tick of the injector, the highest reproducible frequency is
	// half of its rate.
	Interval time.Duration

	writes atomic.Int64
}

// Writes returns how many levels were written.
func (in *Injector) Writes() int64 {
	return in.writes.Load()
}

// Run writes levels until ctx is done. Only level changes are written. The pin
// is left LOW on return.
func (in *Injector) Run(ctx context.Context) error {
	if in.Interval <= 0 {
		return errors.New("injector interval must be positive")
	}
	ticker := time.NewTicker(in.Interval)
	defer ticker.Stop()

	start := time.Now()
	var (
		last    bool
		written bool
	)
	write := func(ctx context.Context, high bool) error {
		err := in.Writer.WritePin(ctx, in.Pin, high)
		if err != nil {
			return errors.Wrapf(err, "unable to inject on %s", in.Pin)
		}
		in.writes.Add(1)
		last, written = high, true

		return nil
	}

	// finish leaves the pin low with a fresh context, the run one being done
	finish := func() error {
		if !last {
			return nil
		}
		lowCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		return write(lowCtx, false)
	}

	for {
		level := in.Generator.Level(time.Since(start))
		if !written || level != last {
			err := write(ctx, level)
			if err != nil {
				if ctx.Err() != nil {
					// the level may have reached the pin
					last = last || level

					return finish()
				}

				return err
			}
		}
		select {
		case <-ctx.Done():
			return finish()
		case <-ticker.C:
		}
	}
}
