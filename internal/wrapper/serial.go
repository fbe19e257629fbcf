package wrapper

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// bootQuiet is how long the link must stay silent before the Arduino is considered
// booted after the reset caused by opening its port.
const bootQuiet = 1500 * time.Millisecond

// OpenOptions describes the wrapper serial port.
type OpenOptions struct {
	Port    string
	Baud    int
	Timeout time.Duration
}

// Open opens the wrapper port and waits for the boot banner to finish.
func Open(ctx context.Context, opts OpenOptions) (*Client, error) {
	if opts.Port == "" {
		return nil, errors.New("wrapper port must be set")
	}
	if opts.Baud == 0 {
		opts.Baud = 115200
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        opts.Port,
		Baud:        opts.Baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", opts.Port)
	}
	err = port.Flush()
	if err != nil {
		glog.Warningf("unable to flush %s: %v", opts.Port, err)
	}

	client := NewClient(port, WithTimeout(opts.Timeout), WithIdleEOF())
	banner := client.Drain(ctx, bootQuiet)
	for _, line := range banner {
		glog.Infof("wrapper %s: %s", opts.Port, line)
	}

	return client, nil
}
