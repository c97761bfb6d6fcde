package simulator

import (
	"errors"
	"fmt"
)

var (
	ErrOutputUnavailable = errors.New("simulator: output stream unavailable")
	ErrWriteTimeout      = errors.New("simulator: write timed out")
	ErrNoResponse        = errors.New("simulator: no response")
	ErrCommandTooLarge   = errors.New("simulator: command too large")
	ErrResponseTooLarge  = errors.New("simulator: response too large")
	ErrInvalidResponse   = errors.New("simulator: invalid response")
	ErrNotImplemented    = errors.New("simulator: not implemented")
)

// LimitError reports a message exceeding a configured channel limit.
// Err is ErrCommandTooLarge or ErrResponseTooLarge.
type LimitError struct {
	Err    error
	Max    int
	Actual int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: %d bytes, limit is %d", e.Err, e.Actual, e.Max)
}

func (e *LimitError) Unwrap() error {
	return e.Err
}

// InvalidResponseError reports bytes received from the simulator that do not
// form a framed R-APDU. It matches ErrInvalidResponse and unwraps to the cause
// (a frame decoding error or iso7816.ErrResponseTooShort).
type InvalidResponseError struct {
	Err error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidResponse, e.Err)
}

func (e *InvalidResponseError) Unwrap() []error {
	return []error{ErrInvalidResponse, e.Err}
}

// ConnectionError reports a failure to reach the simulator.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("simulator: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
