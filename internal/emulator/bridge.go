package emulator

import (
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// DefaultPollInterval is the sleep of the bridge loop between two polls.
const DefaultPollInterval = time.Millisecond

// PTYBridge connects the UART of a Core to a pseudo-terminal so that serial
// clients such as a MODBUS master can open Path().
//
// One service goroutine owns the core: it feeds received bytes, steps the core
// and writes its output in a poll-sleep loop. A second goroutine only blocks on
// the terminal read and hands chunks to it over a channel, so the core is never
// touched concurrently by the bridge.
type PTYBridge struct {
	core     Core
	master   *os.File
	slave    *serial.Port
	path     string
	interval time.Duration
	rx       chan []byte
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewPTYBridge opens a pseudo-terminal in raw mode and starts relaying bytes
// between it and core.
func NewPTYBridge(core Core, interval time.Duration) (*PTYBridge, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	master, tty, err := pty.Open()
	if err != nil {
		return nil, errors.Wrap(err, "unable to open pty")
	}
	path := tty.Name()
	// keep the terminal side open in raw mode so clients find it configured
	slave, err := serial.OpenPort(&serial.Config{Name: path, Baud: 115200})
	tty.Close()
	if err != nil {
		master.Close()

		return nil, errors.Wrapf(err, "unable to configure %s", path)
	}

	b := &PTYBridge{
		core:     core,
		master:   master,
		slave:    slave,
		path:     path,
		interval: interval,
		rx:       make(chan []byte, 64),
		stop:     make(chan struct{}),
	}
	b.wg.Add(2)
	go b.read()
	go b.poll()
	glog.Infof("emulator listening on %s", path)

	return b, nil
}

// Path is the terminal device clients open.
func (b *PTYBridge) Path() string {
	return b.path
}

func (b *PTYBridge) read() {
	defer b.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := b.master.Read(buf)
		if n > 0 {
			chunk := append([]byte{}, buf[:n]...)
			select {
			case b.rx <- chunk:
			case <-b.stop:
				return
			}
		}
		if err != nil {
			select {
			case <-b.stop:
			default:
				glog.Warningf("emulator pty read: %v", err)
			}

			return
		}
	}
}

func (b *PTYBridge) poll() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		default:
		}

	drain:
		for {
			select {
			case chunk := <-b.rx:
				b.core.WriteUART(chunk)
			default:
				break drain
			}
		}
		b.core.Step(b.interval)
		if out := b.core.ReadUART(); len(out) > 0 {
			_, err := b.master.Write(out)
			if err != nil {
				glog.Warningf("emulator pty write: %v", err)
			}
		}
		time.Sleep(b.interval)
	}
}

// Close stops the relay goroutines and releases the terminal.
func (b *PTYBridge) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stop)
		serr := b.slave.Close()
		merr := b.master.Close()
		b.wg.Wait()
		switch {
		case merr != nil:
			err = errors.Wrap(merr, "unable to close pty")
		case serr != nil:
			err = errors.Wrap(serr, "unable to close terminal")
		}
	})

	return err
}
