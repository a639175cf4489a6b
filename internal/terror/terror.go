// Package terror defines the closed error taxonomy shared by every layer of
// the engine (spec §7): store, blob, artifact, evaluator, runtime, and
// sandbox all produce and match on the same Kind rather than inventing their
// own sentinel errors.
package terror

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy entries from spec §7.
type Kind string

const (
	NotFound         Kind = "not_found"
	Invalid          Kind = "invalid"
	Cycle            Kind = "cycle"
	MissingChildren  Kind = "missing_children"
	Script           Kind = "script"
	Sandbox          Kind = "sandbox"
	ChecksumMismatch Kind = "checksum_mismatch"
	Network          Kind = "network"
	IO               Kind = "io"
	Cancelled        Kind = "cancelled"
)

// Error wraps an underlying cause with a taxonomy Kind and, where relevant,
// structured data (missing child IDs, a script stack trace).
type Error struct {
	Kind  Kind
	Msg   string
	Cause error

	// Missing carries the child IDs that blocked a store.Put (Kind ==
	// MissingChildren). It is a structured response, not a generic error
	// payload: callers branch on it directly (spec §4.1).
	Missing []string

	// Stack carries source-mapped frames for Kind == Script.
	Stack []StackFrame
}

// StackFrame is one source-mapped script frame (spec §4.5.4 stack_frame).
type StackFrame struct {
	Module string
	Line   int
	Column int
	Source string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, terror.New(terror.NotFound, "")) — or more idiomatically
// use Of(err) == NotFound.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a plain *Error of the given kind.
func New(kind Kind, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...)}
}

// Wrap constructs a *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...), Cause: cause}
}

// MissingChildrenError builds the structured response used by store.Put.
func MissingChildrenError(ids []string) *Error {
	return &Error{Kind: MissingChildren, Msg: "missing children", Missing: ids}
}

// Of extracts the Kind of err, or "" if err is not (or does not wrap) a
// *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's Kind matches k.
func Is(err error, k Kind) bool {
	return Of(err) == k
}
