// Package roveerr defines the error taxonomy of spec.md §7 as a single
// wrapping error type, analogous to the teacher's sentinel-error-plus-
// centralized-mapping style (internal/store.ErrNotFound + the Fiber
// ErrorHandler in cmd/weather-data-aggregation/main.go).
package roveerr

import (
	"errors"
	"fmt"
)

// Kind identifies which row of spec.md §7's error taxonomy an Error
// belongs to.
type Kind int

const (
	InvalidLocator Kind = iota
	UnknownSource
	UnknownTest
	InvalidArgument
	DataError
	TestFailure
	Cancelled
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidLocator:
		return "InvalidLocator"
	case UnknownSource:
		return "UnknownSource"
	case UnknownTest:
		return "UnknownTest"
	case InvalidArgument:
		return "InvalidArgument"
	case DataError:
		return "DataError"
	case TestFailure:
		return "TestFailure"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with an optional test id (for TestFailure) and an
// underlying cause.
type Error struct {
	Kind    Kind
	TestID  string // set only for TestFailure
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.TestID != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.TestID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WrapTest builds a TestFailure Error naming the failed test.
func WrapTest(testID string, cause error) *Error {
	return &Error{Kind: TestFailure, TestID: testID, Message: cause.Error(), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting
// to Internal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
