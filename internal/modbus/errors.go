package modbus

import (
	"fmt"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
)

// Exception codes.
const (
	ExceptionIllegalFunction    byte = modbus.ExceptionCodeIllegalFunction
	ExceptionIllegalDataAddress byte = modbus.ExceptionCodeIllegalDataAddress
	ExceptionIllegalDataValue   byte = modbus.ExceptionCodeIllegalDataValue
	ExceptionSlaveDeviceFailure byte = modbus.ExceptionCodeServerDeviceFailure
)

// ExceptionError is a MODBUS exception response.
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %d on function %d", e.Code, e.Function)
}

// exceptionFrom converts goburrow exceptions, other errors are returned unchanged.
func exceptionFrom(err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &ExceptionError{Function: mbErr.FunctionCode &^ 0x80, Code: mbErr.ExceptionCode}
	}

	return err
}
