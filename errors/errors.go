// Package errors defines the runtime's wire-visible error taxonomy.
//
// Every fallible operation in context, module and tracing returns an *Error
// (or nil) rather than a bare error, so callers can switch on Code without
// string matching. Internal wrapping uses github.com/cockroachdb/errors so
// that Internal-kind failures keep a stack trace for diagnostics while the
// Code stays stable across wraps.
package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code is the fixed enum of error kinds, matching spec §6 "Error taxonomy".
type Code int

const (
	Ok Code = iota
	InvalidArgument
	OutOfRange
	Overflow
	NotFound
	AlreadyExists
	Unresolved
	Cycle
	Forbidden
	TypeMismatch
	VersionMismatch
	Busy
	Static
	Internal
)

var codeNames = [...]string{
	Ok:              "Ok",
	InvalidArgument: "InvalidArgument",
	OutOfRange:      "OutOfRange",
	Overflow:        "Overflow",
	NotFound:        "NotFound",
	AlreadyExists:   "AlreadyExists",
	Unresolved:      "Unresolved",
	Cycle:           "Cycle",
	Forbidden:       "Forbidden",
	TypeMismatch:    "TypeMismatch",
	VersionMismatch: "VersionMismatch",
	Busy:            "Busy",
	Static:          "Static",
	Internal:        "Internal",
}

// String renders a stable name. It never carries addresses or other
// non-deterministic detail, per spec §6.
func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) {
		return "Unknown"
	}
	return codeNames[c]
}

// Error is the concrete error type returned by every fallible runtime
// operation. Success is reported as a nil `error`, never as a typed nil
// *Error.
type Error struct {
	Code Code
	msg  string
	// cause carries the underlying cockroachdb/errors chain for Internal/
	// environmental failures, preserving a stack trace. Protocol errors
	// (Forbidden, Cycle, Unresolved, ...) typically have no cause.
	cause error
}

// New constructs a protocol-level error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code to an underlying error, capturing its stack via
// cockroachdb/errors. Used for environmental failures (I/O, OOM-adjacent
// allocation failures, export section scan errors).
func Wrap(code Code, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(err)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Unwrap exposes the cockroachdb/errors cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error with the same Code, so callers can
// write `errors.Is(err, errs.New(errs.Forbidden, ""))`-style checks, but the
// idiomatic check is CodeOf(err) == Forbidden.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the Code from err, returning Internal for any error that
// did not originate from this package (an unexpected failure is always
// surfaced as Internal rather than silently treated as Ok).
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
