package wrapper

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrClosed          = errors.New("wrapper link closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrInvalidPin      = errors.New("invalid pin")
)

// ResponseError is returned when the wrapper answered ERR.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("wrapper rejected %q: %s", e.Command, e.Message)
}

// NoResponseError is returned when the wrapper did not answer in time.
type NoResponseError struct {
	Command string
	Timeout time.Duration
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("no response to %q after %v", e.Command, e.Timeout)
}

func unexpected(cmd, reply string) error {
	return errors.Wrapf(ErrUnexpectedReply, "%q answered %q", cmd, reply)
}
