package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies lifecycle failures.
type ErrorKind string

const (
	// ErrorUnknown is an uncategorized failure.
	ErrorUnknown ErrorKind = "unknown"
	// ErrorProvenance indicates the version identity could not be derived.
	ErrorProvenance ErrorKind = "provenance"
	// ErrorInvalidMode indicates an unrecognized execution mode.
	ErrorInvalidMode ErrorKind = "invalid_mode"
	// ErrorConfig indicates missing or invalid configuration.
	ErrorConfig ErrorKind = "config"
	// ErrorSubmission indicates registration or submission failed.
	ErrorSubmission ErrorKind = "submission"
	// ErrorExecutionFailure indicates the remote execution itself failed.
	ErrorExecutionFailure ErrorKind = "execution_failure"
	// ErrorTermination indicates a confirmed termination request failed.
	ErrorTermination ErrorKind = "termination"
	// ErrorMonitor indicates the backend could not be polled.
	ErrorMonitor ErrorKind = "monitor"
)

// Error wraps a lifecycle failure with a stable classification.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError constructs a classified lifecycle error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "lifecycle error"
	}
	switch {
	case e.Message != "" && e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Message != "":
		return e.Message
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s failed", e.Op)
	}
	return "lifecycle error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the classification of err, or ErrorUnknown.
func KindOf(err error) ErrorKind {
	var lifecycleErr *Error
	if errors.As(err, &lifecycleErr) {
		return lifecycleErr.Kind
	}
	return ErrorUnknown
}

// BackendErrorKind classifies transport failures talking to the backend.
type BackendErrorKind string

const (
	BackendErrorUnknown          BackendErrorKind = "unknown"
	BackendErrorUnavailable      BackendErrorKind = "unavailable"
	BackendErrorUnauthorized     BackendErrorKind = "unauthorized"
	BackendErrorPermissionDenied BackendErrorKind = "permission_denied"
	BackendErrorTimeout          BackendErrorKind = "timeout"
	BackendErrorCanceled         BackendErrorKind = "canceled"
	BackendErrorNotFound         BackendErrorKind = "not_found"
	BackendErrorInvalid          BackendErrorKind = "invalid"
	BackendErrorConflict         BackendErrorKind = "conflict"
)

// BackendError wraps backend failures with a stable classification.
type BackendError struct {
	Kind BackendErrorKind
	Op   string
	Err  error
}

// NewBackendError constructs a classified backend error.
func NewBackendError(kind BackendErrorKind, op string, err error) *BackendError {
	return &BackendError{Kind: kind, Op: op, Err: err}
}

func (e *BackendError) Error() string {
	if e == nil {
		return "backend error"
	}
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("backend %s failed", e.Op)
	}
	return "backend error"
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var (
	errNoSourceControl = errors.New("no source control configured")
	errEmptyProvenance = errors.New("empty provenance component")
	errNoBackend       = errors.New("no backend configured")
	errNoEntity        = errors.New("no entity provided")
	errNoPackager      = errors.New("dev mode requires a source packager and uploader")
)
