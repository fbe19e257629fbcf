// Package adapter answers JSON-line requests on stdin/stdout for the web UI
// backend: one request object per line, one response object per line.
package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const maxLine = 1 << 20

var (
	// ErrStop ends Serve after its response is written.
	ErrStop           = errors.New("stop requested")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadParams      = errors.New("invalid params")
)

// Request is one input line.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Decode unmarshals the params into v.
func (r Request) Decode(v interface{}) error {
	if len(r.Params) == 0 {
		return nil
	}
	err := json.Unmarshal(r.Params, v)
	if err != nil {
		return errors.Wrapf(ErrBadParams, "%s: %v", r.Command, err)
	}

	return nil
}

// Response is one output line.
type Response struct {
	ID     string      `json:"id,omitempty"`
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Handler answers requests.
type Handler interface {
	Handle(ctx context.Context, req Request) (interface{}, error)
}

type HandlerFunc func(ctx context.Context, req Request) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (interface{}, error) {
	return f(ctx, req)
}

// Serve reads requests from in until EOF, ctx is done or a handler returns
// ErrStop. Malformed lines get an error response and do not stop Serve.
func Serve(ctx context.Context, in io.Reader, out io.Writer, h Handler) error {
	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		resp := Response{Status: StatusOK}
		var stop bool
		err := json.Unmarshal(line, &req)
		switch {
		case err != nil:
			resp.Status, resp.Error = StatusError, "malformed request: "+err.Error()
		case req.Command == "":
			resp.ID = req.ID
			resp.Status, resp.Error = StatusError, "missing command"
		default:
			resp.ID = req.ID
			glog.V(1).Infof("adapter request %s", req.Command)
			data, herr := h.Handle(ctx, req)
			stop = errors.Is(herr, ErrStop)
			switch {
			case herr != nil && !stop:
				resp.Status, resp.Error = StatusError, herr.Error()
			default:
				resp.Data = data
			}
		}

		err = enc.Encode(resp)
		if err != nil {
			return errors.Wrap(err, "unable to write response")
		}
		if stop {
			return nil
		}
	}

	return errors.Wrap(scanner.Err(), "unable to read request")
}
