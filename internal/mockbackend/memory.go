// Package mockbackend provides an in-memory orchestration backend for local
// testing. Executions move from queued to running to a terminal phase on a
// fixed schedule.
package mockbackend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/schema"
)

const (
	// DefaultQueueDuration is how long executions stay queued.
	DefaultQueueDuration = time.Second
	// DefaultRunDuration is how long executions stay running.
	DefaultRunDuration = 10 * time.Second
	// DefaultBucket receives staged source bundles.
	DefaultBucket = "flytezen-staging"

	maxNameLength = 63
)

// Config tunes the in-memory backend.
type Config struct {
	QueueDuration time.Duration
	RunDuration   time.Duration
	Bucket        string
	ConsoleURL    string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Memory implements core.Backend in memory.
type Memory struct {
	cfg Config

	mu            sync.Mutex
	registrations map[string]registration
	executions    map[string]*execution
}

type registration struct {
	entity   schema.EntityRef
	settings schema.RegistrationSettings
	version  string
}

type execution struct {
	handle    schema.ExecutionHandle
	entity    schema.EntityRef
	version   string
	inputs    schema.Inputs
	createdAt time.Time
	abortedAt time.Time
	reason    string
	aborted   chan struct{}
}

var _ core.Backend = (*Memory)(nil)

// New returns an empty in-memory backend.
func New(cfg Config) *Memory {
	if cfg.QueueDuration < 0 {
		cfg.QueueDuration = 0
	}
	if cfg.RunDuration <= 0 {
		cfg.RunDuration = DefaultRunDuration
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Memory{
		cfg:           cfg,
		registrations: make(map[string]registration),
		executions:    make(map[string]*execution),
	}
}

// Register records entity at version. Re-registering identical settings is a no-op.
func (m *Memory) Register(ctx context.Context, entity schema.EntityRef, settings schema.RegistrationSettings, version string) error {
	if entity.Name == "" || version == "" {
		return core.NewBackendError(core.BackendErrorInvalid, "register", fmt.Errorf("entity and version are required"))
	}
	key := registrationKey(entity, version)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.registrations[key]; ok {
		if sameSettings(existing.settings, settings) {
			pslog.Ctx(ctx).Debug("mock backend registration unchanged", "entity", entity.QualifiedName(), "version", version)
			return nil
		}
		return core.NewBackendError(core.BackendErrorConflict, "register",
			fmt.Errorf("%s already registered at version %s with different settings", entity.QualifiedName(), version))
	}
	m.registrations[key] = registration{entity: entity, settings: settings, version: version}
	pslog.Ctx(ctx).Info("mock backend registered entity", "entity", entity.QualifiedName(), "version", version, "image", settings.Image)
	return nil
}

// Submit creates an execution named after the request prefix.
func (m *Memory) Submit(ctx context.Context, req schema.SubmitRequest) (schema.ExecutionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[registrationKey(req.Entity, req.Version)]; !ok {
		return schema.ExecutionHandle{}, fmt.Errorf("%w: %s@%s", schema.ErrEntityNotRegistered, req.Entity.QualifiedName(), req.Version)
	}
	handle := schema.ExecutionHandle{
		Project: req.Project,
		Domain:  req.Domain,
		Name:    executionName(req.NamePrefix),
	}
	m.executions[handle.Name] = &execution{
		handle:    handle,
		entity:    req.Entity,
		version:   req.Version,
		inputs:    req.Inputs,
		createdAt: m.cfg.Now(),
		aborted:   make(chan struct{}),
	}
	pslog.Ctx(ctx).Info("mock backend execution created", "execution", handle.Name, "entity", req.Entity.QualifiedName())
	return handle, nil
}

// Await waits up to timeout for the execution to reach a terminal phase.
func (m *Memory) Await(ctx context.Context, handle schema.ExecutionHandle, timeout time.Duration) (schema.CompletedExecution, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		exec, st, next, err := m.snapshot(handle)
		if err != nil {
			return schema.CompletedExecution{}, err
		}
		if st.Phase.Terminal() {
			return schema.CompletedExecution{Handle: exec.handle, Status: st, Outputs: outputsFor(exec, st)}, nil
		}
		step := time.NewTimer(next)
		select {
		case <-ctx.Done():
			step.Stop()
			return schema.CompletedExecution{}, ctx.Err()
		case <-deadline.C:
			step.Stop()
			return schema.CompletedExecution{}, schema.ErrPollTimeout
		case <-exec.aborted:
			step.Stop()
		case <-step.C:
		}
	}
}

// Sync returns the current status.
func (m *Memory) Sync(_ context.Context, handle schema.ExecutionHandle) (schema.ExecutionStatus, error) {
	_, st, _, err := m.snapshot(handle)
	return st, err
}

// Terminate aborts a non-terminal execution.
func (m *Memory) Terminate(ctx context.Context, handle schema.ExecutionHandle, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[handle.Name]
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrExecutionNotFound, handle.Name)
	}
	if st, _ := m.statusLocked(exec); st.Phase.Terminal() {
		return fmt.Errorf("%w: %s is %s", schema.ErrNotTerminable, handle.Name, st.Phase)
	}
	exec.abortedAt = m.cfg.Now()
	exec.reason = reason
	close(exec.aborted)
	pslog.Ctx(ctx).Info("mock backend execution aborted", "execution", handle.Name, "reason", reason)
	return nil
}

// CreateUploadLocation returns a content-addressed key in the staging bucket.
func (m *Memory) CreateUploadLocation(_ context.Context, project, domain, digest, filename string) (schema.StagingLocation, error) {
	if digest == "" || filename == "" {
		return schema.StagingLocation{}, core.NewBackendError(core.BackendErrorInvalid, "create upload location", fmt.Errorf("digest and filename are required"))
	}
	key := strings.Join([]string{project, domain, digest, filename}, "/")
	return schema.StagingLocation{
		Bucket:    m.cfg.Bucket,
		Key:       key,
		NativeURL: "s3://" + m.cfg.Bucket + "/" + key,
	}, nil
}

// ConsoleURL links to the execution when a console base is configured.
func (m *Memory) ConsoleURL(handle schema.ExecutionHandle) string {
	if m.cfg.ConsoleURL == "" {
		return ""
	}
	return strings.TrimRight(m.cfg.ConsoleURL, "/") + "/console/projects/" + handle.Project + "/domains/" + handle.Domain + "/executions/" + handle.Name
}

// Registration reports the settings recorded for entity at version.
func (m *Memory) Registration(entity schema.EntityRef, version string) (schema.RegistrationSettings, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[registrationKey(entity, version)]
	return reg.settings, ok
}

func (m *Memory) snapshot(handle schema.ExecutionHandle) (*execution, schema.ExecutionStatus, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[handle.Name]
	if !ok {
		return nil, schema.ExecutionStatus{}, 0, fmt.Errorf("%w: %s", schema.ErrExecutionNotFound, handle.Name)
	}
	st, next := m.statusLocked(exec)
	return exec, st, next, nil
}

// statusLocked derives the phase from elapsed time and returns how long
// until the next transition.
func (m *Memory) statusLocked(exec *execution) (schema.ExecutionStatus, time.Duration) {
	now := m.cfg.Now()
	if !exec.abortedAt.IsZero() {
		return schema.ExecutionStatus{Phase: schema.PhaseAborted, Error: "aborted: " + exec.reason, UpdatedAt: exec.abortedAt}, 0
	}
	queuedUntil := exec.createdAt.Add(m.cfg.QueueDuration)
	runningUntil := queuedUntil.Add(m.cfg.RunDuration)
	switch {
	case now.Before(queuedUntil):
		return schema.ExecutionStatus{Phase: schema.PhaseQueued, UpdatedAt: exec.createdAt}, queuedUntil.Sub(now)
	case now.Before(runningUntil):
		return schema.ExecutionStatus{Phase: schema.PhaseRunning, UpdatedAt: queuedUntil}, runningUntil.Sub(now)
	case shouldFail(exec.inputs):
		return schema.ExecutionStatus{Phase: schema.PhaseFailed, Error: "execution failed: inputs requested failure", UpdatedAt: runningUntil}, 0
	default:
		return schema.ExecutionStatus{Phase: schema.PhaseSucceeded, UpdatedAt: runningUntil}, 0
	}
}

func outputsFor(exec *execution, st schema.ExecutionStatus) schema.Outputs {
	if st.Phase != schema.PhaseSucceeded {
		return nil
	}
	return schema.Outputs{
		"o0":      fmt.Sprintf("s3://outputs/%s/%s/%s/o0", exec.handle.Project, exec.handle.Domain, exec.handle.Name),
		"version": exec.version,
		"inputs":  len(exec.inputs),
	}
}

func shouldFail(inputs schema.Inputs) bool {
	v, _ := inputs["fail"].(bool)
	return v
}

func sameSettings(a, b schema.RegistrationSettings) bool {
	if a.Image != b.Image {
		return false
	}
	if (a.FastPackage == nil) != (b.FastPackage == nil) {
		return false
	}
	return a.FastPackage == nil || *a.FastPackage == *b.FastPackage
}

func registrationKey(entity schema.EntityRef, version string) string {
	return entity.QualifiedName() + "@" + version
}

// executionName sanitizes prefix into [a-z0-9-] and appends a random fragment.
func executionName(prefix string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(prefix) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	fragment := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	base := strings.Trim(b.String(), "-")
	if base == "" || base[0] < 'a' || base[0] > 'z' {
		base = "f" + base
	}
	if max := maxNameLength - len(fragment) - 1; len(base) > max {
		base = strings.TrimRight(base[:max], "-")
	}
	return base + "-" + fragment
}
