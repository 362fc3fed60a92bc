// Package errors provides domain-specific errors for the tempo sync engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common domain error conditions.
var (
	ErrConflictPending    = errors.New("entity has an unresolved conflict")
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrConflictResolved   = errors.New("conflict already resolved")
	ErrConflictSuperseded = errors.New("remote changed again before resolution")
	ErrEntityNotFound     = errors.New("entity not found in local cache")
	ErrInvalidEntityType  = errors.New("invalid entity type")
	ErrEntityIDRequired   = errors.New("entity ID required")
	ErrEmptyPayload       = errors.New("payload has no fields")
	ErrInvalidResolution  = errors.New("invalid conflict resolution")
	ErrOffline            = errors.New("network offline")
	ErrEngineClosed       = errors.New("sync engine closed")

	// Remote store outcomes. Adapters wrap these so the coordinator can
	// classify a failure without knowing the transport.
	ErrVersionMismatch   = errors.New("remote version does not match base version")
	ErrRemoteRejected    = errors.New("remote rejected mutation")
	ErrRemoteNotFound    = errors.New("remote entity not found")
	ErrRemoteExists      = errors.New("remote entity already exists")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	CodeValidation      ErrorCode = "VALIDATION"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeConflictPending ErrorCode = "CONFLICT_PENDING"
	CodeTransient       ErrorCode = "TRANSIENT"
	CodeRejected        ErrorCode = "REJECTED"
	CodeStorage         ErrorCode = "STORAGE"
	CodeConfiguration   ErrorCode = "CONFIG"
)

// TempoError wraps errors with additional context for debugging and handling.
type TempoError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error returns a formatted error string including the code, message, and cause if present.
func (e *TempoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for use with errors.Is and errors.As.
func (e *TempoError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TempoError with the given code, message, and optional cause.
func NewError(code ErrorCode, message string, cause error) *TempoError {
	return &TempoError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error's context and returns the error.
// This allows for method chaining when adding multiple context values.
func WithContext(err *TempoError, key string, value interface{}) *TempoError {
	if err.Context == nil {
		err.Context = make(map[string]interface{})
	}
	err.Context[key] = value
	return err
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target and sets target to that error value.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of the first TempoError in err's chain, or an
// empty code when there is none.
func CodeOf(err error) ErrorCode {
	var te *TempoError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsRejected reports whether err means the remote store refused a mutation
// permanently. Retrying a rejected mutation cannot succeed.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteRejected) || errors.Is(err, ErrRemoteNotFound) {
		return true
	}
	return CodeOf(err) == CodeRejected
}

// IsTransient reports whether err should be retried later. Anything that is
// not an explicit rejection counts as transient so no mutation is dropped on
// an unclassified failure.
func IsTransient(err error) bool {
	return err != nil && !IsRejected(err)
}

// Rejected wraps cause as a permanent remote rejection.
func Rejected(message string, cause error) *TempoError {
	if cause == nil {
		cause = ErrRemoteRejected
	}
	return NewError(CodeRejected, message, cause)
}

// Transient wraps cause as a retryable failure.
func Transient(message string, cause error) *TempoError {
	if cause == nil {
		cause = ErrRemoteUnavailable
	}
	return NewError(CodeTransient, message, cause)
}
