package schema

import "errors"

var (
	// ErrInvalidMode indicates an unrecognized execution mode.
	ErrInvalidMode = errors.New("invalid execution mode")
	// ErrInvalidPhase indicates an unrecognized execution phase.
	ErrInvalidPhase = errors.New("invalid execution phase")
	// ErrPollTimeout indicates a bounded wait elapsed before completion.
	ErrPollTimeout = errors.New("execution still running")
	// ErrNotTerminable indicates the execution can no longer be terminated.
	ErrNotTerminable = errors.New("execution is not terminable")
	// ErrExecutionNotFound indicates the backend has no such execution.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrInvalidExecutionName indicates a malformed execution name.
	ErrInvalidExecutionName = errors.New("invalid execution name")
	// ErrEntityNotFound indicates no entity matches the requested key.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrEntityNotRegistered indicates a submission for an unregistered version.
	ErrEntityNotRegistered = errors.New("entity version not registered")
	// ErrExecutionFailed indicates the remote execution completed with an error.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrInterrupted indicates monitoring ended because of a user interrupt.
	ErrInterrupted = errors.New("interrupted")
	// ErrMissingConfig indicates required configuration is absent.
	ErrMissingConfig = errors.New("missing required configuration")
)
