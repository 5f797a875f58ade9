// Package apierr provides the structured error taxonomy shared by every
// engine and by the tool/resource surface that serializes it to clients.
package apierr

import (
	"fmt"
	"time"
)

// Code identifies a stable error category understood by clients.
type Code string

const (
	Unauthenticated    Code = "unauthenticated"
	PermissionDenied   Code = "permission_denied"
	ValidationError    Code = "validation_error"
	NotFound           Code = "not_found"
	Conflict           Code = "conflict"
	StorageBusy        Code = "storage_busy"
	StorageUnavailable Code = "storage_unavailable"
	RateLimited        Code = "rate_limited"
	Internal           Code = "internal"
)

// Severity classifies how loudly an error should be logged.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var defaultSeverity = map[Code]Severity{
	Unauthenticated:    SeverityWarning,
	PermissionDenied:   SeverityWarning,
	ValidationError:    SeverityWarning,
	NotFound:           SeverityWarning,
	Conflict:           SeverityWarning,
	StorageBusy:        SeverityError,
	StorageUnavailable: SeverityCritical,
	RateLimited:        SeverityWarning,
	Internal:           SeverityCritical,
}

var recoverable = map[Code]bool{
	Unauthenticated:    false,
	PermissionDenied:   false,
	ValidationError:    false,
	NotFound:           false,
	Conflict:           false,
	StorageBusy:        true,
	StorageUnavailable: false,
	RateLimited:        true,
	Internal:           false,
}

// Error is the structured error type returned by every engine boundary.
type Error struct {
	Code          Code
	Message       string
	Severity      Severity
	Recoverable   bool
	RetryAfter    time.Duration
	CorrelationID string
	Details       map[string]string
	Cause         error
}

// New creates a structured error with the default severity/recoverable
// flags for code.
func New(code Code, message string) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		Severity:    defaultSeverity[code],
		Recoverable: recoverable[code],
	}
}

// WithCause attaches an underlying error for logging, never surfaced to clients.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryAfter sets the retry hint for recoverable errors.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithDetail adds a field-level validation detail.
func (e *Error) WithDetail(field, reason string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[field] = reason
	return e
}

// WithCorrelationID tags an internal error with a correlation id for log lookup.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Envelope is the wire shape serialized by the tool/resource surface.
type Envelope struct {
	Success     bool              `json:"success"`
	Error       string            `json:"error"`
	Code        Code              `json:"code"`
	Severity    Severity          `json:"severity"`
	Recoverable bool              `json:"recoverable"`
	RetryAfter  *float64          `json:"retry_after,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// ToEnvelope renders e for the wire. Internal errors never leak e.Cause;
// clients see only Message plus a correlation id they can hand to support.
func (e *Error) ToEnvelope() Envelope {
	msg := e.Message
	if e.Code == Internal {
		msg = "an internal error occurred"
		if e.CorrelationID != "" {
			msg = fmt.Sprintf("an internal error occurred (ref %s)", e.CorrelationID)
		}
	}
	env := Envelope{
		Success:     false,
		Error:       msg,
		Code:        e.Code,
		Severity:    e.Severity,
		Recoverable: e.Recoverable,
		Details:     e.Details,
	}
	if e.RetryAfter > 0 {
		secs := e.RetryAfter.Seconds()
		env.RetryAfter = &secs
	}
	return env
}

// As reports whether err (or something it wraps) is an *Error, mirroring
// the errors.As contract without requiring callers to import errors here.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
