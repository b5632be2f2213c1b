package core

import (
	"context"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/schema"
)

// Controller drives one execution through its lifecycle.
type Controller struct {
	Source    SourceControl
	Submitter *Submitter
	Monitor   *Monitor
	BaseImage string
	Defaults  ContextDefaults
	// OnSubmitted is called once a remote execution exists, before monitoring.
	OnSubmitted func(ctx context.Context, ec schema.ExecutionContext, sub Submission)
}

// RunResult collects everything produced by Run.
type RunResult struct {
	Identity   schema.VersionIdentity
	Context    schema.ExecutionContext
	Submission Submission
	Monitor    *MonitorResult
}

// Prepare derives the identity and resolves the execution context without
// contacting the backend.
func (c *Controller) Prepare(ctx context.Context, mode schema.Mode) (schema.VersionIdentity, schema.ExecutionContext, error) {
	id, err := DeriveIdentity(ctx, c.Source)
	if err != nil {
		return schema.VersionIdentity{}, schema.ExecutionContext{}, err
	}
	ec, err := ResolveContext(mode, id, c.BaseImage, c.Defaults)
	if err != nil {
		return id, schema.ExecutionContext{}, err
	}
	pslog.Ctx(ctx).Debug("execution context resolved", "mode", ec.Mode, "image", ec.ImageRef(), "version", ec.Version)
	return id, ec, nil
}

// Run prepares, submits and (when the context asks to wait) monitors entity.
func (c *Controller) Run(ctx context.Context, mode schema.Mode, entity Entity, inputs schema.Inputs) (RunResult, error) {
	id, ec, err := c.Prepare(ctx, mode)
	result := RunResult{Identity: id, Context: ec}
	if err != nil {
		return result, err
	}
	if c.Submitter == nil {
		return result, NewError(ErrorConfig, "run", errNoBackend)
	}

	sub, err := c.Submitter.Submit(ctx, ec, entity, inputs)
	result.Submission = sub
	if err != nil {
		return result, err
	}
	if !sub.Remote() {
		return result, nil
	}
	if c.OnSubmitted != nil {
		c.OnSubmitted(ctx, ec, sub)
	}
	if !ec.Wait || c.Monitor == nil {
		pslog.Ctx(ctx).Info("not waiting for completion", "execution", sub.Handle.Name)
		return result, nil
	}

	mon, err := c.Monitor.Wait(ctx, *sub.Handle)
	result.Monitor = &mon
	return result, err
}
