package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/schema"
)

// RawOutputKey holds stdout when a command does not print a JSON object.
const RawOutputKey = "stdout"

// Command runs an entity as a local process. Inputs are written to stdin
// as a JSON object; stdout is parsed as a JSON object of outputs.
type Command struct {
	schema.EntityRef
	Argv []string
	Dir  string
	Env  []string
}

// Ref implements core.Entity.
func (c *Command) Ref() schema.EntityRef { return c.EntityRef }

// Call implements core.Entity.
func (c *Command) Call(ctx context.Context, inputs schema.Inputs) (schema.Outputs, error) {
	if len(c.Argv) == 0 {
		return nil, fmt.Errorf("entity %s: local_command is empty", c.QualifiedName())
	}
	if inputs == nil {
		inputs = schema.Inputs{}
	}
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	log := pslog.Ctx(ctx)

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	if c.Dir != "" {
		if info, err := os.Stat(c.Dir); err == nil && info.IsDir() {
			cmd.Dir = c.Dir
		}
	}
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	log.Debug("local command start", "argv", c.Argv, "dir", cmd.Dir, "inputs_len", len(payload))
	started := time.Now()
	runErr := cmd.Run()
	fields := []any{"duration_ms", time.Since(started).Milliseconds(), "stdout_len", stdout.Len(), "stderr_len", stderr.Len()}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			fields = append(fields, "exit_code", exitErr.ExitCode())
		}
		log.Warn("local command failed", append(fields, "err", runErr)...)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.QualifiedName(), runErr, lastLine(msg))
		}
		return nil, fmt.Errorf("%s: %w", c.QualifiedName(), runErr)
	}
	log.Debug("local command finished", fields...)
	return ParseOutputs(stdout.Bytes()), nil
}

// ParseOutputs decodes a JSON object, or wraps non-JSON text under RawOutputKey.
func ParseOutputs(data []byte) schema.Outputs {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return schema.Outputs{}
	}
	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err == nil && out != nil {
		return schema.Outputs(out)
	}
	return schema.Outputs{RawOutputKey: string(trimmed)}
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
