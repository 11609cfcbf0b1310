// Package errs provides the unified error type used across mssqlgate.
//
// Every subsystem (pool, driver, service, transports) wraps its native errors
// into *errs.Error before returning them to callers. Callers use the Is*
// predicates to handle errors without importing driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "query timed out", err)
//
//	// In a handler, check the error kind:
//	if errs.IsQueryRejected(err) {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing driver-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindConfiguration            // missing or contradictory settings
	ErrKindConnectionFailed         // pool construction or repair failed
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL runtime error on an admitted statement
	ErrKindInvalidInput             // malformed identifier or enum from the caller
	ErrKindPermissionDenied         // access denied by the database
	ErrKindQueryRejected            // statement refused by the safety gate
	ErrKindShutdown                 // pool manager already closed
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConfiguration:
		return "configuration"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindQueryRejected:
		return "query_rejected"
	case ErrKindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all mssqlgate subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original error, preserved for errors.Is / errors.As
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsConfiguration reports whether err is a missing/contradictory settings error.
func IsConfiguration(err error) bool {
	return KindOf(err) == ErrKindConfiguration
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsQueryFailed reports whether err is a SQL execution error.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsQueryRejected reports whether the safety gate refused the statement.
func IsQueryRejected(err error) bool {
	return KindOf(err) == ErrKindQueryRejected
}

// IsShutdown reports whether err came from a closed pool manager.
func IsShutdown(err error) bool {
	return KindOf(err) == ErrKindShutdown
}

// IsQueryExecution reports whether the database failed an admitted statement
// at runtime (syntax error, timeout, permission denial).
func IsQueryExecution(err error) bool {
	switch KindOf(err) {
	case ErrKindQueryFailed, ErrKindTimeout, ErrKindPermissionDenied:
		return true
	}
	return false
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
