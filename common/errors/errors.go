// Package errors carries the error taxonomy shared by every component of the core.
// Errors keep their Kind when wrapped so callers can branch with errors.Is against
// the sentinels below.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kinds
const (
	KindValidation        = "ValidationError"
	KindInvalidTransition = "InvalidTransitionError"
	KindConflict          = "ConflictError"
	KindNotFound          = "NotFoundError"
	KindOverfill          = "OverfillError"
	KindAlreadyResolved   = "AlreadyResolvedError"
	KindStorage           = "StorageError"
	KindAuditFailure      = "AuditFailureError"
	KindHalted            = "TradingHaltedError"
	KindBrokerUnavailable = "BrokerUnavailableError"
)

var (
	Validation        = NewWithKind(KindValidation)
	InvalidTransition = NewWithKind(KindInvalidTransition)
	Conflict          = NewWithKind(KindConflict)
	NotFound          = NewWithKind(KindNotFound)
	Overfill          = NewWithKind(KindOverfill)
	AlreadyResolved   = NewWithKind(KindAlreadyResolved)
	Storage           = NewWithKind(KindStorage)
	AuditFailure      = NewWithKind(KindAuditFailure)
	Halted            = NewWithKind(KindHalted)
	BrokerUnavailable = NewWithKind(KindBrokerUnavailable)
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	err := *e
	err.trace = stack[:n]
	return &err
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	err := *e
	err.Fields = append(append([]FieldError(nil), e.Fields...), FieldError{Kind: kind, Field: field, Message: message})
	return &err
}

// Is implements the needed interface for errors.Is.
// Two *Error values match when their kinds match.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when none.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retriable reports whether err is a transient storage failure. Only the
// outermost kind counts: an AuditFailure caused by a storage error is fatal.
func Retriable(err error) bool {
	return KindOf(err) == KindStorage
}
