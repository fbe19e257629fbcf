package wrapper

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds every command unless WithTimeout is used.
const DefaultTimeout = 2 * time.Second

// Transport sends one command and returns the reply line.
type Transport interface {
	Command(ctx context.Context, cmd string) (string, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per command timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithIdleEOF makes the reader treat empty io.EOF reads as "no data yet". Serial
// ports opened with a read timeout report idle periods that way.
func WithIdleEOF() ClientOption {
	return func(c *Client) {
		c.idleEOF = true
	}
}

// Client is a Transport over a byte stream. Commands are serialized.
type Client struct {
	mu      sync.Mutex
	port    io.ReadWriter
	lines   chan string
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
	idleEOF bool

	errMu   sync.Mutex
	readErr error
}

// NewClient starts reading replies from port. port is closed by Close when it
// implements io.Closer.
func NewClient(port io.ReadWriter, opts ...ClientOption) *Client {
	c := &Client{
		port:    port,
		lines:   make(chan string, 16),
		done:    make(chan struct{}),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.reader()

	return c
}

func (c *Client) reader() {
	defer close(c.lines)

	buf := make([]byte, 256)
	var line strings.Builder
	for {
		n, err := c.port.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '\r':
			case '\n':
				select {
				case c.lines <- line.String():
				case <-c.done:
					return
				}
				line.Reset()
			default:
				line.WriteByte(b)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n == 0 && c.idleEOF {
				select {
				case <-c.done:
					return
				default:
					continue
				}
			}
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()

			return
		}
	}
}

func (c *Client) linkErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil && !errors.Is(c.readErr, io.EOF) {
		return errors.Wrap(c.readErr, ErrClosed.Error())
	}

	return ErrClosed
}

// Drain discards lines until the link stayed quiet for quiet, or ctx ends. The
// Arduino resets when its port is opened and prints a banner once booted.
func (c *Client) Drain(ctx context.Context, quiet time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := []string{}
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return res
		case <-timer.C:
			return res
		case line, ok := <-c.lines:
			if !ok {
				return res
			}
			glog.V(2).Infof("wrapper drained %q", line)
			res = append(res, line)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		}
	}
}

// Command sends cmd and waits for one non empty reply line.
func (c *Client) Command(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// stale lines belong to earlier timed out commands
	for stale := true; stale; {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return "", c.linkErr()
			}
			glog.V(2).Infof("wrapper discarded stale %q", line)
		default:
			stale = false
		}
	}

	glog.V(2).Infof("wrapper > %s", cmd)
	_, err := io.WriteString(c.port, cmd+"\n")
	if err != nil {
		return "", errors.Wrapf(err, "unable to send %q", cmd)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", errors.Wrapf(ctx.Err(), "waiting for %q", cmd)
		case <-timer.C:
			return "", &NoResponseError{Command: cmd, Timeout: c.timeout}
		case line, ok := <-c.lines:
			if !ok {
				return "", c.linkErr()
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			glog.V(2).Infof("wrapper < %s", line)
			if msg, isErr := strings.CutPrefix(line, "ERR"); isErr {
				return "", &ResponseError{Command: cmd, Message: strings.TrimSpace(msg)}
			}

			return line, nil
		}
	}
}

// Close stops the reader and closes the port.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if closer, ok := c.port.(io.Closer); ok {
			err = closer.Close()
		}
	})

	return errors.Wrap(err, "unable to close wrapper port")
}

var _ Transport = (*Client)(nil)
