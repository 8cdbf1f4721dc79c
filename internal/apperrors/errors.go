// Package apperrors defines the error taxonomy shared by every component of
// the optimization engine: InvalidArgument, NotFound, SecurityError,
// Unavailable, Timeout, Internal.
//
// DESIGN: Each kind wraps an underlying cause (possibly nil) and carries a
// human-readable message. Callers use errors.Is against the exported sentinel
// Kind values, and errors.As against *Error to recover the kind and message.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch-layer handling.
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindSecurity        Kind = "security_error"
	KindUnavailable     Kind = "unavailable"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

// Error is the concrete error type carrying a Kind, message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, apperrors.NotFound) work by comparing Kind.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds a KindInvalidArgument error naming the failing field(s).
func InvalidArgument(format string, args ...any) *Error {
	return newErr(KindInvalidArgument, format, args...)
}

// NotFound builds a KindNotFound error for a missing entity.
func NotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, format, args...)
}

// Security builds a KindSecurity error, e.g. a path sandbox rejection.
func Security(format string, args ...any) *Error {
	return newErr(KindSecurity, format, args...)
}

// Unavailable builds a KindUnavailable error for a collaborator that failed to
// initialize or load.
func Unavailable(format string, args ...any) *Error {
	return newErr(KindUnavailable, format, args...)
}

// Timeout builds a KindTimeout error for a deadline that expired.
func Timeout(format string, args ...any) *Error {
	return newErr(KindTimeout, format, args...)
}

// Internal builds a KindInternal error, wrapping cause if present.
func Internal(cause error, format string, args ...any) *Error {
	e := newErr(KindInternal, format, args...)
	e.Cause = cause
	return e
}

// Wrap re-classifies an arbitrary error as Internal unless it is already an
// *Error, in which case it passes through unchanged.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: err.Error(), Cause: err}
}

// sentinels usable with errors.Is(err, apperrors.ErrNotFound) etc.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrSecurity        = &Error{Kind: KindSecurity}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrInternal        = &Error{Kind: KindInternal}
)
