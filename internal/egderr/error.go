// Package egderr defines the category/component/code/cause error type used
// throughout the daemon, matching the error handling design in spec.md §7.
package egderr

import (
	"errors"
	"fmt"
)

// Category classifies how a caller should react to an error.
type Category int

const (
	// Temporary errors are expected to resolve on their own: the caller
	// should retry on the normal schedule.
	Temporary Category = iota
	// Permanent errors indicate the configured operation cannot succeed as
	// configured (bad URL, missing file, unknown command); repeated
	// occurrences lead to a source being disabled.
	Permanent
	// Fatal errors abort startup or force a non-zero exit; no state is
	// silently replaced.
	Fatal
)

func (c Category) String() string {
	switch c {
	case Temporary:
		return "temporary"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the daemon's structured error type.
type Error struct {
	Category  Category
	Component string
	Code      string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s/%s]: %s: %v", e.Category, e.Component, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s/%s]: %s", e.Category, e.Component, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by Code, so callers can test with a sentinel *Error built with
// just a Code set, e.g. errors.Is(err, egderr.Code("STORAGE_CORRUPTED")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// Code builds a sentinel *Error carrying only a code, for use with errors.Is.
func Code(code string) error {
	return &Error{Code: code}
}

func new(cat Category, component, code, message string, cause error) *Error {
	return &Error{Category: cat, Component: component, Code: code, Message: message, Cause: cause}
}

// Temp builds a Temporary error.
func Temp(component, code, message string, cause error) *Error {
	return new(Temporary, component, code, message, cause)
}

// Perm builds a Permanent error.
func Perm(component, code, message string, cause error) *Error {
	return new(Permanent, component, code, message, cause)
}

// Fat builds a Fatal error.
func Fat(component, code, message string, cause error) *Error {
	return new(Fatal, component, code, message, cause)
}

// CategoryOf extracts the Category of err if it is (or wraps) an *Error,
// defaulting to Permanent for plain errors — an error this package doesn't
// recognize is treated conservatively, not retried indefinitely.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Permanent
}
