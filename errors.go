package opmux

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCode represents a high-level error category. It mirrors spec §7's
// taxonomy: Configuration (NotConnected, TooLarge), Resource (OutOfMemory),
// Protocol (ProtocolBad, Overflow, Malformed), Liveness (Timeout,
// Interrupted), and Transport (opaque host-device errors).
type ErrorCode string

const (
	ErrCodeNotConnected ErrorCode = "not connected"
	ErrCodeTooLarge     ErrorCode = "payload too large"
	ErrCodeOutOfMemory  ErrorCode = "out of memory"
	ErrCodeTimeout      ErrorCode = "timeout"
	ErrCodeOverflow     ErrorCode = "response overflow"
	ErrCodeProtocolBad  ErrorCode = "no protocol handler"
	ErrCodeInterrupted  ErrorCode = "interrupted"
	ErrCodeTransport    ErrorCode = "transport error"
	ErrCodeMalformed    ErrorCode = "malformed frame"
)

// Error is a structured go-opmux error carrying the connection/operation
// context a bare error string would lose.
type Error struct {
	Op     string        // operation that failed, e.g. "Submit", "Recv"
	ConnID uint32        // connection id (0 if not applicable)
	OpID   uint16        // correlation id (0 if not applicable/not yet assigned)
	Code   ErrorCode     // high-level category
	Errno  syscall.Errno // underlying errno, if the inner error carried one
	Msg    string        // human-readable detail
	Inner  error         // wrapped error, e.g. a transport error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ConnID != 0 {
		parts = append(parts, fmt.Sprintf("conn=%d", e.ConnID))
	}
	if e.OpID != 0 {
		parts = append(parts, fmt.Sprintf("id=%d", e.OpID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("opmux: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("opmux: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by ErrorCode.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError builds a structured error with no connection/operation context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewConnError builds a structured error scoped to a connection.
func NewConnError(op string, connID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ConnID: connID, Code: code, Msg: msg}
}

// NewOpError builds a structured error scoped to an operation.
func NewOpError(op string, connID uint32, opID uint16, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ConnID: connID, OpID: opID, Code: code, Msg: msg}
}

// WrapTransportError wraps a host-device error as a structured Error with
// ErrCodeTransport, mapping a bare syscall.Errno to its message and
// preserving the chain for errors.Unwrap.
func WrapTransportError(op string, connID uint32, opID uint16, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return e
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, ConnID: connID, OpID: opID, Code: ErrCodeTransport, Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, ConnID: connID, OpID: opID, Code: ErrCodeTransport, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
