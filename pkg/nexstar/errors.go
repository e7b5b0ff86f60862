package nexstar

import (
	"errors"
	"fmt"
)

// ErrUnexpectedResponse is matched by every error caused by a response that
// did not end with the '#' acknowledgment.
var ErrUnexpectedResponse = errors.New("unexpected response")

// ResponseError is returned when the hand controller answers with an ack
// byte other than '#'. Code is the extra byte drained after it.
type ResponseError struct {
	Command byte
	Ack     byte
	Code    byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("command '%c': unexpected response (ack 0x%02X, code 0x%02X)", e.Command, e.Ack, e.Code)
}

func (e *ResponseError) Is(target error) bool {
	return target == ErrUnexpectedResponse
}

// ReadError wraps a failure of the transport's read half.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError wraps a failure of the transport's write half.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsUnexpectedResponse returns true if err was caused by a bad ack byte.
func IsUnexpectedResponse(err error) bool {
	return errors.Is(err, ErrUnexpectedResponse)
}

// IsReadError returns true if err wraps a transport read failure.
func IsReadError(err error) bool {
	var re *ReadError
	return errors.As(err, &re)
}

// IsWriteError returns true if err wraps a transport write failure.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
