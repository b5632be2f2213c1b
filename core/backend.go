package core

import (
	"context"
	"time"

	"github.com/sciexp/flytezen/schema"
)

// Backend is the orchestration service client used by the lifecycle.
type Backend interface {
	// Register makes entity available at version. Repeating a registration
	// with an identical version is a no-op.
	Register(ctx context.Context, entity schema.EntityRef, settings schema.RegistrationSettings, version string) error
	// Submit starts an execution and returns its handle without waiting.
	Submit(ctx context.Context, req schema.SubmitRequest) (schema.ExecutionHandle, error)
	// Await blocks up to timeout for the execution to finish. It returns
	// schema.ErrPollTimeout when the execution is still running.
	Await(ctx context.Context, handle schema.ExecutionHandle, timeout time.Duration) (schema.CompletedExecution, error)
	// Sync fetches a fresh status snapshot.
	Sync(ctx context.Context, handle schema.ExecutionHandle) (schema.ExecutionStatus, error)
	// Terminate aborts a running execution. It returns schema.ErrNotTerminable
	// when the execution already finished.
	Terminate(ctx context.Context, handle schema.ExecutionHandle, reason string) error
	// CreateUploadLocation returns where a source bundle should be staged.
	CreateUploadLocation(ctx context.Context, project, domain, digest, filename string) (schema.StagingLocation, error)
	// ConsoleURL links to the execution in the backend UI.
	ConsoleURL(handle schema.ExecutionHandle) string
}

// ExecutionWatcher is the subset of Backend used while monitoring.
type ExecutionWatcher interface {
	Await(ctx context.Context, handle schema.ExecutionHandle, timeout time.Duration) (schema.CompletedExecution, error)
	Sync(ctx context.Context, handle schema.ExecutionHandle) (schema.ExecutionStatus, error)
	Terminate(ctx context.Context, handle schema.ExecutionHandle, reason string) error
}

// SourceControl answers the provenance queries used to version a run.
type SourceControl interface {
	RemoteURL(ctx context.Context) (string, error)
	Branch(ctx context.Context) (string, error)
	ShortRevision(ctx context.Context) (string, error)
}

// Entity is a unit of work that can also be invoked locally.
type Entity interface {
	Ref() schema.EntityRef
	Call(ctx context.Context, inputs schema.Inputs) (schema.Outputs, error)
}

// SourceBundle is a packaged copy of the local source tree.
type SourceBundle struct {
	Path   string
	Digest string
	Size   int64
}

// Packager archives a source tree into outDir.
type Packager interface {
	Package(ctx context.Context, root, outDir string) (SourceBundle, error)
}

// Uploader copies a bundle to a staging location.
type Uploader interface {
	Upload(ctx context.Context, bundle SourceBundle, loc schema.StagingLocation) error
}
