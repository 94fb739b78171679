// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-pipe.

package api

import "fmt"

// Common errors used across the library.
var (
	// ErrWouldBlock is control flow, not a failure: the non-blocking call must be
	// retried on the next readiness event.
	ErrWouldBlock = fmt.Errorf("operation would block")

	ErrPeerClosed       = fmt.Errorf("peer closed connection")
	ErrOutOfMemory      = fmt.Errorf("buffer allocation failed")
	ErrInvalidArgument  = fmt.Errorf("invalid argument")
	ErrLoopClosed       = fmt.Errorf("event loop is closed")
	ErrSignalClosed     = fmt.Errorf("signal is closed")
	ErrPollerClosed     = fmt.Errorf("poller is closed")
	ErrFDAlreadyWatched = fmt.Errorf("file descriptor already registered")
	ErrFDNotWatched     = fmt.Errorf("file descriptor not registered")
	ErrTransformStalled = fmt.Errorf("transform made no progress")
	ErrNotSupported     = fmt.Errorf("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeContractViolation
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports whether target is an *Error with the same code, so callers can match
// a class of failure with errors.Is(err, &Error{Code: ...}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ContractViolation builds the error raised (as a panic) when a caller breaks an
// ownership rule, e.g. publishing a buffer it does not hold.
func ContractViolation(message string) *Error {
	return NewError(ErrCodeContractViolation, message)
}
