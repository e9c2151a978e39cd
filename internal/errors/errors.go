// Package errors defines stable error codes for carto's failure modes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ParseError indicates a source file could not be parsed
	ParseError ErrorCode = "PARSE_ERROR"
	// NotFound indicates a requested path does not exist
	NotFound ErrorCode = "NOT_FOUND"
	// SchemaMismatch indicates a persisted snapshot has the wrong schema version
	SchemaMismatch ErrorCode = "SCHEMA_MISMATCH"
	// LockContention indicates another process holds the exclusive index lock
	LockContention ErrorCode = "LOCK_CONTENTION"
	// ProviderError indicates the embedding provider rejected or failed a request
	ProviderError ErrorCode = "PROVIDER_ERROR"
	// CorruptIndex indicates the persisted snapshot bytes are unreadable
	CorruptIndex ErrorCode = "CORRUPT_INDEX"
	// JobNotFound indicates a remote or local job id is unrecognized
	JobNotFound ErrorCode = "JOB_NOT_FOUND"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// CartoError represents a carto error with code, message, and optional cause.
type CartoError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new CartoError.
func New(code ErrorCode, message string, cause error) *CartoError {
	return &CartoError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a new CartoError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CartoError {
	return &CartoError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *CartoError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CartoError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *CartoError) WithDetails(details interface{}) *CartoError {
	e.Details = details
	return e
}

// CodeOf extracts the error code from err, or InternalError if err carries none.
func CodeOf(err error) ErrorCode {
	var ce *CartoError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return InternalError
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce *CartoError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
