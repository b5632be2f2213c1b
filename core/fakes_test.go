package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/schema"
)

type fakeSource struct {
	remote    string
	branch    string
	revision  string
	remoteErr error
	branchErr error
	revErr    error
}

func (f fakeSource) RemoteURL(context.Context) (string, error) { return f.remote, f.remoteErr }

func (f fakeSource) Branch(context.Context) (string, error) { return f.branch, f.branchErr }

func (f fakeSource) ShortRevision(context.Context) (string, error) { return f.revision, f.revErr }

type fakeEntity struct {
	ref     schema.EntityRef
	outputs schema.Outputs
	err     error
	calls   int
	got     schema.Inputs
}

func (f *fakeEntity) Ref() schema.EntityRef { return f.ref }

func (f *fakeEntity) Call(_ context.Context, inputs schema.Inputs) (schema.Outputs, error) {
	f.calls++
	f.got = inputs
	return f.outputs, f.err
}

// awaitStep scripts one Await call.
type awaitStep struct {
	done      schema.CompletedExecution
	err       error
	interrupt bool
}

type fakeBackend struct {
	mu sync.Mutex

	calls      []string
	registered []schema.RegistrationSettings
	versions   []string
	submitted  []schema.SubmitRequest
	terminated []string

	handle       schema.ExecutionHandle
	registerErr  error
	submitErr    error
	awaits       []awaitStep
	syncs        []schema.ExecutionStatus
	syncErr      error
	finalSyncErr error
	terminateErr error
	location     schema.StagingLocation

	cancel context.CancelFunc
}

func (f *fakeBackend) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Register(_ context.Context, _ schema.EntityRef, settings schema.RegistrationSettings, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("register")
	f.registered = append(f.registered, settings)
	f.versions = append(f.versions, version)
	return f.registerErr
}

func (f *fakeBackend) Submit(_ context.Context, req schema.SubmitRequest) (schema.ExecutionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("submit")
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return schema.ExecutionHandle{}, f.submitErr
	}
	return f.handle, nil
}

func (f *fakeBackend) Await(ctx context.Context, _ schema.ExecutionHandle, _ time.Duration) (schema.CompletedExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("await")
	if len(f.awaits) == 0 {
		return schema.CompletedExecution{}, schema.ErrPollTimeout
	}
	step := f.awaits[0]
	f.awaits = f.awaits[1:]
	if step.interrupt {
		f.cancel()
		return schema.CompletedExecution{}, ctx.Err()
	}
	return step.done, step.err
}

func (f *fakeBackend) Sync(ctx context.Context, _ schema.ExecutionHandle) (schema.ExecutionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("sync")
	// The interrupt path syncs on an uncancellable context.
	if f.finalSyncErr != nil && ctx.Done() == nil {
		return schema.ExecutionStatus{}, f.finalSyncErr
	}
	if f.syncErr != nil {
		return schema.ExecutionStatus{}, f.syncErr
	}
	if len(f.syncs) == 0 {
		return schema.ExecutionStatus{Phase: schema.PhaseRunning}, nil
	}
	status := f.syncs[0]
	if len(f.syncs) > 1 {
		f.syncs = f.syncs[1:]
	}
	return status, nil
}

func (f *fakeBackend) Terminate(_ context.Context, handle schema.ExecutionHandle, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("terminate")
	f.terminated = append(f.terminated, handle.Name+":"+reason)
	return f.terminateErr
}

func (f *fakeBackend) CreateUploadLocation(_ context.Context, project, domain, digest, filename string) (schema.StagingLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upload_location")
	if f.location.NativeURL != "" {
		return f.location, nil
	}
	key := strings.Join([]string{project, domain, digest, filename}, "/")
	return schema.StagingLocation{Bucket: "staging", Key: key, NativeURL: "s3://staging/" + key}, nil
}

func (f *fakeBackend) ConsoleURL(handle schema.ExecutionHandle) string {
	return "http://console/" + handle.Name
}

func (f *fakeBackend) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePackager struct {
	calls  []string
	bundle SourceBundle
	err    error
}

func (f *fakePackager) Package(_ context.Context, root, outDir string) (SourceBundle, error) {
	f.calls = append(f.calls, root)
	if f.err != nil {
		return SourceBundle{}, f.err
	}
	bundle := f.bundle
	if bundle.Path == "" {
		bundle.Path = outDir + "/fast.tar.gz"
	}
	return bundle, nil
}

type fakeUploader struct {
	uploads []schema.StagingLocation
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, _ SourceBundle, loc schema.StagingLocation) error {
	f.uploads = append(f.uploads, loc)
	return f.err
}

type logEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *logCapture) Entries() []logEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []logEntry
	for _, line := range strings.Split(c.buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, parseLogEntry(line))
	}
	return out
}

func (c *logCapture) has(level, message string) bool {
	for _, entry := range c.Entries() {
		if entry.Message == message && (level == "" || entry.Level == level) {
			return true
		}
	}
	return false
}

func parseLogEntry(line string) logEntry {
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return logEntry{Message: line}
	}
	level := ""
	if value, ok := payload["level"].(string); ok {
		level = value
	} else if value, ok := payload["lvl"].(string); ok {
		level = value
	}
	message := ""
	if value, ok := payload["message"].(string); ok {
		message = value
	} else if value, ok := payload["msg"].(string); ok {
		message = value
	}
	return logEntry{Level: level, Message: message, Fields: payload}
}

func testContext(capture *logCapture) context.Context {
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.DebugLevel,
	})
	return pslog.ContextWithLogger(context.Background(), logger)
}

func noSleep(context.Context, time.Duration) error { return nil }

func answer(a Answer) func(time.Duration) Answer {
	return func(time.Duration) Answer { return a }
}

var errBoom = errors.New("boom")
