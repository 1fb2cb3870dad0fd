// Package apperr defines the tagged error kinds used across the service.
//
// Every failure that crosses a package boundary is classified into one of a
// small set of kinds so the HTTP edge can map it to a status code without
// inspecting error strings, and so callers can distinguish expected misses
// (eligibility not present) from fatal failures (network, quota).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	// Internal is the zero kind: an unexpected failure.
	Internal Kind = iota
	// InvalidArgument rejects a malformed request shape, justification,
	// duration, or reviewer set.
	InvalidArgument
	// Unauthenticated marks a missing or unverifiable caller identity.
	Unauthenticated
	// AccessDenied marks a failed authorization check or an upstream 403.
	AccessDenied
	// NotFound marks a project outside the managed scope or a missing secret.
	NotFound
	// AlreadyExists marks a conflicting binding or an exhausted CAS budget.
	AlreadyExists
	// QuotaExceeded marks an upstream 429.
	QuotaExceeded
	// Unavailable marks a transport-level failure after the retry budget.
	Unavailable
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case AccessDenied:
		return "ACCESS_DENIED"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case QuotaExceeded:
		return "QUOTA_EXCEEDED"
	case Unavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it as the cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Internal when err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-visible message of err. For unclassified errors a
// generic message is returned so internals never leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "an unexpected error occurred"
}
