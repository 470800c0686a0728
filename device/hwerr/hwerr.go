// Package hwerr holds the error taxonomy shared by the transport, control and chip layers.
// Layers return these typed errors; the board and scheduler decide what is transient.
package hwerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout          = errors.New("ErrTimeout")
	ErrIo               = errors.New("ErrIo")
	ErrProtocol         = errors.New("ErrProtocol")
	ErrMismatch         = errors.New("ErrMismatch")
	ErrCorruptFrame     = errors.New("ErrCorruptFrame")
	ErrEnumeration      = errors.New("ErrEnumeration")
	ErrInvalidParameter = errors.New("ErrInvalidParameter")
	ErrOverheat         = errors.New("ErrOverheat")
	ErrClosed           = errors.New("ErrClosed")
)

// TimeoutError reports that nothing arrived within the bound.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout after %v", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// IoError wraps an OS level failure on a device node.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() []error { return []error{ErrIo, e.Err} }

// ProtocolError is a malformed control frame or a non-zero device status.
type ProtocolError struct {
	Reason string
	Status uint8
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("protocol error: %s (status 0x%02x)", e.Reason, e.Status)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// MismatchError is a response carrying a sequence token nobody asked for.
type MismatchError struct {
	Want uint8
	Got  uint8
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("sequence mismatch: want %d got %d", e.Want, e.Got)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// CorruptFrame is a data channel frame that failed preamble, length or CRC checks.
type CorruptFrame struct {
	Reason string
	Frame  []byte
}

func (e *CorruptFrame) Error() string {
	return fmt.Sprintf("corrupt frame (%s): % x", e.Reason, e.Frame)
}

func (e *CorruptFrame) Unwrap() error { return ErrCorruptFrame }

type EnumerationError struct {
	Expected int
	Found    int
	Reason   string
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumeration failed: %s (expected %d chips, found %d)", e.Reason, e.Expected, e.Found)
}

func (e *EnumerationError) Unwrap() error { return ErrEnumeration }

type InvalidParameter struct {
	Name  string
	Value any
	Why   string
}

func (e *InvalidParameter) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Name, e.Value, e.Why)
}

func (e *InvalidParameter) Unwrap() error { return ErrInvalidParameter }

func Timeout(op string, after time.Duration) error {
	return &TimeoutError{Op: op, After: after}
}

func Invalid(name string, value any, why string) error {
	return &InvalidParameter{Name: name, Value: value, Why: why}
}

// IsTransient reports errors that are worth retrying on the same board.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrMismatch) ||
		errors.Is(err, ErrCorruptFrame)
}

// IsFatal reports errors after which the board must be removed.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrIo) ||
		errors.Is(err, ErrEnumeration) ||
		errors.Is(err, ErrOverheat) ||
		errors.Is(err, ErrClosed)
}

// IsCallerError marks errors that must never be retried.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidParameter)
}
