// Package domainerrors provides coded domain errors for the covenant engine.
//
// Services return these so transport layers can translate them into HTTP
// responses without inspecting error strings. Stores return sentinel errors
// (pkg/platform/sentinel) instead; services translate at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and assertions.
type Code string

const (
	// CodeNotFound signals a version, entry, pin, or deal that does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict signals a uniqueness collision (duplicate metric key, second live pin).
	CodeConflict Code = "conflict"
	// CodeInvariantViolation signals an illegal state transition, e.g. publishing
	// a version that is not a draft or a lost CAS race.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeValidation signals a registry entry that cannot be mapped to a metric
	// definition (no formula, unparseable legacy expression).
	CodeValidation Code = "validation_failure"
	// CodeBadRequest signals malformed caller input at the service boundary.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput signals a value that fails domain parsing (bad UUID, bad enum).
	CodeInvalidInput Code = "invalid_input"
	// CodeUnauthorized signals a missing or bad admin credential.
	CodeUnauthorized Code = "unauthorized"
	// CodeInternal signals an infrastructure failure the caller cannot fix.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the outermost code on err, or CodeInternal when err is uncoded.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
