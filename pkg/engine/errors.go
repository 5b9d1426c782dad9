package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkengine/pkg/manager"
)

// ErrorCode is the machine-readable error class carried by an Error event.
type ErrorCode string

const (
	CodePackageNotFound       ErrorCode = "package-not-found"
	CodeRepoNotFound          ErrorCode = "repo-not-found"
	CodeRepoAlreadySet        ErrorCode = "repo-already-set"
	CodeDepResolutionFailed   ErrorCode = "dep-resolution-failed"
	CodeTransactionError      ErrorCode = "transaction-error"
	CodeCancelled             ErrorCode = "transaction-cancelled"
	CodeInternalError         ErrorCode = "internal-error"
	CodeNotSupported          ErrorCode = "not-supported"
	CodePackageIDInvalid      ErrorCode = "package-id-invalid"
	CodeFilterInvalid         ErrorCode = "filter-invalid"
	CodeCannotCancel          ErrorCode = "cannot-cancel"
	CodePackageDownloadFailed ErrorCode = "package-download-failed"
	CodeRoleUnknown           ErrorCode = "role-unknown"
)

// Error is a classified engine failure.
type Error struct {
	// Code is the error class.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// NewError creates an Error with no underlying cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error around err.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrPackageNotFound     = NewError(CodePackageNotFound, "package not found")
	ErrRepoNotFound        = NewError(CodeRepoNotFound, "repo not found")
	ErrRepoAlreadySet      = NewError(CodeRepoAlreadySet, "repo already in state")
	ErrDepResolutionFailed = NewError(CodeDepResolutionFailed, "dependency resolution failed")
	ErrTransactionError    = NewError(CodeTransactionError, "transaction failed")
	ErrCancelled           = NewError(CodeCancelled, "cancelled")
	ErrInternal            = NewError(CodeInternalError, "internal error")
	ErrNotSupported        = NewError(CodeNotSupported, "not supported")
	ErrCannotCancel        = NewError(CodeCannotCancel, "cannot cancel")
)

// CodeOf classifies any error. Context cancellation maps to CodeCancelled,
// manager.ErrNotSupported to CodeNotSupported and anything else to
// CodeInternalError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	if errors.Is(err, manager.ErrNotSupported) {
		return CodeNotSupported
	}
	return CodeInternalError
}

// MessageOf returns the message an Error event carries for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil && !strings.Contains(e.Message, e.Err.Error()) {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

// IsCancelled returns true if err is a cancellation.
func IsCancelled(err error) bool {
	return CodeOf(err) == CodeCancelled
}

// IsNotFound returns true for package or repo lookups that found nothing.
func IsNotFound(err error) bool {
	c := CodeOf(err)
	return c == CodePackageNotFound || c == CodeRepoNotFound
}

func notSupported(role Role, backend string) *Error {
	return NewError(CodeNotSupported, fmt.Sprintf("%s is not supported by the %s backend", role, backend))
}
