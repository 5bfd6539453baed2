package tasks

import (
	"errors"
	"fmt"
)

// Kind is the stable error category surfaced by every mutator operation.
// Transport layers map kinds to status codes; clients use KindConflict to
// offer a reload-and-retry flow.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindPrecondition      Kind = "precondition"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Error is the single error type returned by the task service. Every failed
// operation returns exactly one Error; no sentinel values are mixed in.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func newError(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func internalError(message string, cause error) *Error {
	return &Error{kind: KindInternal, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("tasks: %s: %s", e.kind, e.message)
	}
	return fmt.Sprintf("tasks: %s: %s: %v", e.kind, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the error category.
func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the human-readable description without internal detail.
func (e *Error) Message() string {
	if e.kind == KindInternal {
		return "internal error"
	}
	return e.message
}

// KindOf extracts the category from an error returned by this package.
// Unknown errors are classified as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var taskErr *Error
	if errors.As(err, &taskErr) {
		return taskErr.kind
	}
	return KindInternal
}
