// Package simerr defines the error taxonomy shared by the scheduling core.
//
// Errors carry a Code so callers can branch on the category without string
// matching:
//   - VALIDATION: a rejected clock mutation or invalid argument
//   - WORKER_FAILURE: a panic or error escaping one unit of parallel work
//   - RESOURCE_EXHAUSTION: an out-of-memory signature seen in a worker
//   - PREFERENCE_MISCONFIGURATION: a configuration value rejected before it was applied
package simerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes errors.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeWorkerFailure      Code = "WORKER_FAILURE"
	CodeResourceExhaustion Code = "RESOURCE_EXHAUSTION"
	CodeMisconfiguration   Code = "PREFERENCE_MISCONFIGURATION"
)

// Error is the structured error returned by the core packages.
type Error struct {
	Code Code

	// Op names the operation that failed, e.g. "clock.SetCycle".
	Op string

	// Field names the offending value, if any.
	Field string

	Message string

	// Cause is the wrapped error, if any.
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field=%s)", e.Field)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation creates a VALIDATION error.
func Validation(op, field, msg string) *Error {
	return &Error{Code: CodeValidation, Op: op, Field: field, Message: msg}
}

// Misconfiguration creates a PREFERENCE_MISCONFIGURATION error.
func Misconfiguration(field, msg string) *Error {
	return &Error{Code: CodeMisconfiguration, Op: "config.Validate", Field: field, Message: msg}
}

// WorkerFailure wraps cause as a WORKER_FAILURE error.
func WorkerFailure(op string, cause error) *Error {
	return &Error{Code: CodeWorkerFailure, Op: op, Message: "unit of work failed", Cause: cause}
}

// ResourceExhaustion creates a RESOURCE_EXHAUSTION error.
func ResourceExhaustion(msg string) *Error {
	return &Error{Code: CodeResourceExhaustion, Message: msg}
}

// FromPanic converts a recovered panic value into a WORKER_FAILURE error.
// An error value is kept as the cause so errors.Is/As still see it.
func FromPanic(op string, v any) error {
	if err, ok := v.(error); ok {
		return WorkerFailure(op, err)
	}
	return WorkerFailure(op, fmt.Errorf("panic: %v", v))
}

func hasCode(err error, code Code) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		if e.Cause == nil {
			return false
		}
		err = e.Cause
	}
	return false
}

// IsValidation reports whether err is, or wraps, a VALIDATION error.
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsWorkerFailure reports whether err is, or wraps, a WORKER_FAILURE error.
func IsWorkerFailure(err error) bool { return hasCode(err, CodeWorkerFailure) }

// IsResourceExhaustion reports whether err is, or wraps, a RESOURCE_EXHAUSTION error.
func IsResourceExhaustion(err error) bool { return hasCode(err, CodeResourceExhaustion) }

// IsMisconfiguration reports whether err is, or wraps, a PREFERENCE_MISCONFIGURATION error.
func IsMisconfiguration(err error) bool { return hasCode(err, CodeMisconfiguration) }
