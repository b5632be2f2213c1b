package logx

import (
	"context"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/schema"
)

type contextKey int

const (
	executionKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithVersion annotates the logger with the derived version when present.
func WithVersion(log pslog.Logger, version string) pslog.Logger {
	if version != "" {
		log = log.With("version", version)
	}
	return log
}

// WithEntity annotates the logger with the entity name.
func WithEntity(log pslog.Logger, ref schema.EntityRef) pslog.Logger {
	if ref.Name == "" {
		return log
	}
	log = log.With("entity", ref.QualifiedName())
	if ref.Type != "" {
		log = log.With("entity_type", ref.Type)
	}
	return log
}

// WithExecution annotates the logger with execution identifiers, skipping
// fields already attached for the same execution.
func WithExecution(ctx context.Context, handle schema.ExecutionHandle) pslog.Logger {
	log := pslog.Ctx(ctx)
	if handle.Name == "" {
		return log
	}
	if current, ok := ctx.Value(executionKey).(schema.ExecutionHandle); ok && current == handle {
		return log
	}
	return log.With("execution", handle.Name, "project", handle.Project, "domain", handle.Domain)
}

// ContextWithLogger attaches the logger to the context.
func ContextWithLogger(ctx context.Context, log pslog.Logger) context.Context {
	return pslog.ContextWithLogger(ctx, log)
}

// ContextWithExecution attaches an execution-annotated logger and marker.
func ContextWithExecution(ctx context.Context, handle schema.ExecutionHandle) context.Context {
	if ctx == nil || handle.Name == "" {
		return ctx
	}
	ctx = pslog.ContextWithLogger(ctx, WithExecution(ctx, handle))
	return context.WithValue(ctx, executionKey, handle)
}
