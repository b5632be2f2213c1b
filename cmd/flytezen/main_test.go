package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/internal/backendgrpc"
	"github.com/sciexp/flytezen/internal/mockbackend"
	"github.com/sciexp/flytezen/internal/persist"
	"github.com/sciexp/flytezen/schema"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null", "GIT_CONFIG_NOSYSTEM=1")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

// sourceRepo creates a committed repository on branch main whose origin
// names the "flytezen" repository.
func sourceRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q")
	gitCmd(t, dir, "checkout", "-q", "-b", "main")
	gitCmd(t, dir, "config", "user.email", "dev@example.com")
	gitCmd(t, dir, "config", "user.name", "Dev")
	if err := os.MkdirAll(filepath.Join(dir, "src", "flytezen"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "flytezen", "__init__.py"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-q", "-m", "init")
	gitCmd(t, dir, "remote", "add", "origin", "https://github.com/acme/flytezen.git")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger := pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel})
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	root.SetIn(strings.NewReader(""))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"WORKFLOW_IMAGE", "FLYTEZEN_PROJECT", "FLYTEZEN_DOMAIN", "FLYTEZEN_BACKEND_ENDPOINT", "FLYTEZEN_STAGING_ACCESS_KEY", "FLYTEZEN_STAGING_SECRET_KEY"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
	return home
}

func startMockBackend(t *testing.T, cfg mockbackend.Config) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "backend.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- backendgrpc.NewServer(mockbackend.New(cfg)).Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Errorf("mock backend did not stop")
		}
	})
	return socket
}

func TestExecuteDryRunProd(t *testing.T) {
	isolateHome(t)
	repo := sourceRepo(t)
	out, err := runCLI(t, "--source-dir", repo, "execute", "--mode", "prod", "--dry-run")
	if err != nil {
		t.Fatalf("execute: %v\n%s", err, out)
	}
	for _, want := range []string{"prod", "flytezen-main-", "localhost:30000/flytezen:", "lrwine.training_workflow", "max_iter"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestExecuteInvalidModeFails(t *testing.T) {
	isolateHome(t)
	_, err := runCLI(t, "execute", "--mode", "staging")
	if core.KindOf(err) != core.ErrorInvalidMode || !errors.Is(err, schema.ErrInvalidMode) {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
}

func TestExecuteLocalRunsCommandWithMergedInputs(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	isolateHome(t)
	repo := sourceRepo(t)
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `config_version: 1
state_dir: `+filepath.Join(dir, "state")+`
entities:
  - module: lrwine
    name: training_workflow
    inputs:
      logistic_regression:
        max_iter: 2000
    local_command: ["/bin/sh", "-c", "cat"]
`)
	inputsPath := writeFile(t, dir, "inputs.yaml", "logistic_regression:\n  C: 0.5\n")

	out, err := runCLI(t, "-c", cfgPath, "--source-dir", repo, "execute", "--mode", "local", "--inputs", inputsPath)
	if err != nil {
		t.Fatalf("execute: %v\n%s", err, out)
	}
	if !strings.Contains(out, `{"C":0.5,"max_iter":2000}`) {
		t.Fatalf("expected merged inputs echoed as outputs:\n%s", out)
	}
}

func TestExecuteProdAgainstMockBackend(t *testing.T) {
	isolateHome(t)
	repo := sourceRepo(t)
	socket := startMockBackend(t, mockbackend.Config{RunDuration: 50 * time.Millisecond})
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	cfgPath := writeFile(t, dir, "config.yaml", `config_version: 1
state_dir: `+stateDir+`
backend:
  endpoint: `+socket+`
  insecure: true
  console_url: http://localhost:30080
monitor:
  poll_interval_seconds: 1
`)

	out, err := runCLI(t, "-c", cfgPath, "--source-dir", repo, "execute", "--mode", "prod")
	if err != nil {
		t.Fatalf("execute: %v\n%s", err, out)
	}
	for _, want := range []string{"Execution submitted: flytezen-main-", "Console: http://localhost:30080/console/projects/flytesnacks/domains/development/executions/", "succeeded", "o0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	store, err := persist.NewStore(stateDir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	records, err := store.List()
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %d (%v)", len(records), err)
	}
	rec := records[0]
	if rec.Phase != schema.PhaseSucceeded || rec.Mode != schema.ModeProd || !strings.HasPrefix(rec.Version, "flytezen-main-") {
		t.Fatalf("unexpected record %+v", rec)
	}

	out, err = runCLI(t, "-c", cfgPath, "list")
	if err != nil || !strings.Contains(out, rec.Name) {
		t.Fatalf("list: %v\n%s", err, out)
	}
	out, err = runCLI(t, "-c", cfgPath, "status", rec.Name)
	if err != nil || !strings.Contains(out, "succeeded") {
		t.Fatalf("status: %v\n%s", err, out)
	}
	out, err = runCLI(t, "-c", cfgPath, "attach", rec.Name)
	if err != nil || !strings.Contains(out, "succeeded") {
		t.Fatalf("attach: %v\n%s", err, out)
	}
	if _, err := runCLI(t, "-c", cfgPath, "status", "missing-run"); !errors.Is(err, schema.ErrExecutionNotFound) {
		t.Fatalf("expected not found for unknown record, got %v", err)
	}
}

func TestExecuteFailedRemoteExecutionExitsWithError(t *testing.T) {
	isolateHome(t)
	repo := sourceRepo(t)
	socket := startMockBackend(t, mockbackend.Config{RunDuration: 20 * time.Millisecond})
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `config_version: 1
state_dir: `+filepath.Join(dir, "state")+`
backend:
  endpoint: `+socket+`
monitor:
  poll_interval_seconds: 1
`)
	inputsPath := writeFile(t, dir, "inputs.json", `{"fail": true}`)
	out, err := runCLI(t, "-c", cfgPath, "--source-dir", repo, "execute", "--mode", "prod", "--inputs", inputsPath)
	if !errors.Is(err, schema.ErrExecutionFailed) {
		t.Fatalf("expected execution failure, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "failed") {
		t.Fatalf("expected failed status in output:\n%s", out)
	}
}

func TestExecuteDevRequiresStagingCredentials(t *testing.T) {
	isolateHome(t)
	repo := sourceRepo(t)
	out, err := runCLI(t, "--source-dir", repo, "execute", "--mode", "dev")
	if !errors.Is(err, schema.ErrMissingConfig) {
		t.Fatalf("expected missing config, got %v\n%s", err, out)
	}
	if !strings.Contains(err.Error(), "FLYTEZEN_STAGING_ACCESS_KEY") || !strings.Contains(err.Error(), "FLYTEZEN_STAGING_SECRET_KEY") {
		t.Fatalf("expected all missing values reported together, got %v", err)
	}
}

func TestExecuteUnknownEntity(t *testing.T) {
	isolateHome(t)
	_, err := runCLI(t, "execute", "--mode", "local", "--entity", "nope_missing")
	if !errors.Is(err, schema.ErrEntityNotFound) {
		t.Fatalf("expected entity not found, got %v", err)
	}
}

func TestConfigInitAndEntities(t *testing.T) {
	isolateHome(t)
	cfgPath := filepath.Join(t.TempDir(), "flytezen", "config.yaml")
	out, err := runCLI(t, "-c", cfgPath, "config", "init")
	if err != nil || !strings.Contains(out, cfgPath) {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, err := runCLI(t, "-c", cfgPath, "config", "init"); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := runCLI(t, "-c", cfgPath, "config", "init", "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
	out, err = runCLI(t, "-c", cfgPath, "entities")
	if err != nil || !strings.Contains(out, "lrwine_training_workflow") {
		t.Fatalf("entities: %v\n%s", err, out)
	}
}

func TestDoctorReportsProblems(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `config_version: 1
state_dir: `+filepath.Join(dir, "state")+`
backend:
  endpoint: `+filepath.Join(dir, "missing.sock")+`
`)
	out, err := runCLI(t, "-c", cfgPath, "--source-dir", dir, "doctor", "--timeout", "500ms")
	if err == nil {
		t.Fatalf("expected doctor to fail:\n%s", out)
	}
	for _, want := range []string{"entities", "provenance:", "backend:", "staging bucket:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in doctor output:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil || !strings.Contains(out, "v") {
		t.Fatalf("version: %v\n%s", err, out)
	}
}

func TestApplyArgv0Alias(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "empty", args: nil, want: nil},
		{name: "no-alias", args: []string{"flytezen", "execute"}, want: []string{"flytezen", "execute"}},
		{name: "backend-mock", args: []string{"/usr/bin/flytezen-backend-mock", "--listen", ":1"}, want: []string{"/usr/bin/flytezen-backend-mock", "backend-mock", "--listen", ":1"}},
	}
	for _, tc := range tests {
		got := applyArgv0Alias(tc.args)
		if strings.Join(got, " ") != strings.Join(tc.want, " ") {
			t.Fatalf("%s: applyArgv0Alias = %v, want %v", tc.name, got, tc.want)
		}
	}
}
