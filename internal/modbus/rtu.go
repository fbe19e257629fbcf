package modbus

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// RTUOptions describes the serial line of the RTU master.
type RTUOptions struct {
	Port       string
	Baud       int
	SlaveID    byte
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

func (o *RTUOptions) setDefaults() {
	if o.Baud == 0 {
		o.Baud = 115200
	}
	if o.SlaveID == 0 {
		o.SlaveID = DefaultSlaveID
	}
	if o.Timeout == 0 {
		o.Timeout = time.Second
	}
	if o.Retries < 1 {
		o.Retries = 1
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
}

// RTU is a MODBUS RTU master implementing Registers.
type RTU struct {
	mu         sync.Mutex
	client     modbus.Client
	closer     func() error
	retries    int
	retryDelay time.Duration
}

// DialRTU opens the serial line at 8N1.
func DialRTU(opts RTUOptions) (*RTU, error) {
	opts.setDefaults()

	handler := modbus.NewRTUClientHandler(opts.Port)
	handler.BaudRate = opts.Baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = opts.SlaveID
	handler.Timeout = opts.Timeout

	err := handler.Connect()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open modbus port %s", opts.Port)
	}
	glog.V(1).Infof("modbus RTU master on %s at %d baud, slave %d", opts.Port, opts.Baud, opts.SlaveID)

	rtu := NewRTU(modbus.NewClient(handler), opts.Retries, opts.RetryDelay)
	rtu.closer = handler.Close

	return rtu, nil
}

// NewRTU wraps an existing client. Every request is attempted up to retries times,
// exception responses are not retried.
func NewRTU(client modbus.Client, retries int, retryDelay time.Duration) *RTU {
	if retries < 1 {
		retries = 1
	}

	return &RTU{client: client, retries: retries, retryDelay: retryDelay}
}

func (r *RTU) do(what string, fn func() ([]byte, error)) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for attempt := 1; attempt <= r.retries; attempt++ {
		var res []byte
		res, err = fn()
		if err == nil {
			return res, nil
		}
		err = exceptionFrom(err)
		var excErr *ExceptionError
		if errors.As(err, &excErr) {
			return nil, errors.Wrap(err, what)
		}
		glog.V(1).Infof("modbus %s attempt %d/%d failed: %v", what, attempt, r.retries, err)
		if attempt < r.retries {
			time.Sleep(r.retryDelay)
		}
	}

	return nil, errors.Wrapf(err, "%s failed after %d attempts", what, r.retries)
}

func (r *RTU) ReadHolding(addr uint16) (uint16, error) {
	values, err := r.ReadHoldings(addr, 1)
	if err != nil {
		return 0, err
	}

	return values[0], nil
}

func (r *RTU) ReadHoldings(addr, quantity uint16) ([]uint16, error) {
	res, err := r.do("read holding registers", func() ([]byte, error) {
		return r.client.ReadHoldingRegisters(addr, quantity)
	})
	if err != nil {
		return nil, err
	}
	if len(res) != int(quantity)*2 {
		return nil, errors.Errorf("read holding registers: got %d bytes for %d registers", len(res), quantity)
	}

	return decodeWords(res), nil
}

func (r *RTU) WriteHolding(addr, value uint16) error {
	_, err := r.do("write holding register", func() ([]byte, error) {
		return r.client.WriteSingleRegister(addr, value)
	})

	return err
}

// WriteHoldings writes consecutive registers with function 16.
func (r *RTU) WriteHoldings(addr uint16, values []uint16) error {
	_, err := r.do("write holding registers", func() ([]byte, error) {
		return r.client.WriteMultipleRegisters(addr, uint16(len(values)), encodeWords(values))
	})

	return err
}

func (r *RTU) Close() error {
	if r.closer == nil {
		return nil
	}

	return errors.Wrap(r.closer(), "unable to close modbus port")
}

var _ Registers = (*RTU)(nil)

func decodeWords(data []byte) []uint16 {
	res := make([]uint16, len(data)/2)
	for i := range res {
		res[i] = binary.BigEndian.Uint16(data[2*i:])
	}

	return res
}

func encodeWords(values []uint16) []byte {
	res := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(res[2*i:], v)
	}

	return res
}
