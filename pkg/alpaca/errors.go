package alpaca

import (
	"errors"
	"fmt"
)

// Error is an ASCOM Alpaca error with its protocol error number.
type Error struct {
	Number  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (0x%X)", e.Message, e.Number)
}

// Is matches any Error with the same number.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Number == e.Number
}

// Driver specific errors start at 0x500.
const driverErrorNumber = 0x500

var (
	ErrPropertyNotImplemented = &Error{0x400, "Property or method not implemented"}
	ErrInvalidValue           = &Error{0x401, "Invalid value"}
	ErrNotConnected           = &Error{0x407, "Not connected"}
	ErrInvalidOperation       = &Error{0x40B, "Invalid operation"}
)

// InvalidValue returns an ErrInvalidValue carrying a specific message.
func InvalidValue(format string, args ...any) error {
	return &Error{ErrInvalidValue.Number, fmt.Sprintf(format, args...)}
}

// errorNumber maps err to the number reported in the response envelope.
func errorNumber(err error) int {
	var alpacaErr *Error
	if errors.As(err, &alpacaErr) {
		return alpacaErr.Number
	}
	return driverErrorNumber
}
