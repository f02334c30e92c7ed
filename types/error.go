package types

import "fmt"

// ErrorCode represents a unified error code across the memory subsystem.
type ErrorCode string

// Memory error codes. Not-found conditions on tier lookups are deliberately
// absent: those are reported as boolean/nil results, never as errors.
const (
	ErrSerialization     ErrorCode = "SERIALIZATION_FAILED"
	ErrCompression       ErrorCode = "COMPRESSION_FAILED"
	ErrStorage           ErrorCode = "STORAGE_FAILED"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrConfiguration     ErrorCode = "CONFIGURATION"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}
