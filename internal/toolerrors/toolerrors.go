// Package toolerrors provides the gateway's structured error taxonomy
// (spec.md §7). Every terminal result carries an error of one of these
// kinds so callers can distinguish retriable failures from fatal ones
// without parsing message strings.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error kinds a gateway operation can surface.
type Kind string

const (
	KindStorageUnavailable    Kind = "StorageUnavailable"
	KindSchemaError           Kind = "SchemaError"
	KindConstraintViolation   Kind = "ConstraintViolation"
	KindValidationError       Kind = "ValidationError"
	KindPathOutsideWorkspace  Kind = "PathOutsideWorkspace"
	KindPathTraversalAttack   Kind = "PathTraversalAttack"
	KindPathInvalid           Kind = "PathInvalid"
	KindWorkspaceInvalid      Kind = "WorkspaceInvalid"
	KindToolUnavailable       Kind = "ToolUnavailable"
	KindSerializationError    Kind = "SerializationError"
	KindTimeoutError          Kind = "TimeoutError"
	KindMemoryError           Kind = "MemoryError"
	KindResourceLimitError    Kind = "ResourceLimitError"
	KindCycleDetected         Kind = "CycleDetected"
	KindLowConfidence         Kind = "LowConfidence"
	KindLearningFailure       Kind = "LearningFailure"
	KindSyntaxError           Kind = "SyntaxError"
	KindRuntimeError          Kind = "RuntimeError"
	KindPermissionError       Kind = "PermissionError"
	KindSecurityError         Kind = "SecurityError"
)

// retriableKinds lists the kinds a caller may safely retry (spec §7).
var retriableKinds = map[Kind]bool{
	KindStorageUnavailable: true,
	KindTimeoutError:       true,
	KindToolUnavailable:    true,
}

// Error is a structured gateway failure that preserves a cause chain while
// remaining a standard error (supports errors.Is/As via Unwrap).
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Newf formats message according to a format specifier.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap converts an arbitrary error into an Error chain, tagging the
// outermost link with kind. If err is already an *Error its kind is kept
// and only the message is aliased; deeper causes are preserved via Unwrap.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause chain for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Retriable reports whether the caller may retry the operation that
// produced this error.
func (e *Error) Retriable() bool {
	if e == nil {
		return false
	}
	return retriableKinds[e.Kind]
}

// Result is the user-visible error field attached to every terminal
// gateway result (spec §7): kind, message, and a retriable flag.
type Result struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// ToResult converts err into the wire-level Result shape, or returns nil
// when err is nil.
func ToResult(err error) *Result {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return &Result{Kind: te.Kind, Message: te.Error(), Retriable: te.Retriable()}
	}
	return &Result{Kind: KindRuntimeError, Message: err.Error()}
}
