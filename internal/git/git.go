package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"pkt.systems/pslog"
)

// Run executes a git command in the provided directory.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	log := pslog.Ctx(ctx).With("dir", dir, "args", strings.Join(args, " "))
	log.Debug("git run start")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		preview := strings.TrimSpace(string(output))
		truncated := false
		if len(preview) > 200 {
			preview = preview[:200]
			truncated = true
		}
		log.Warn("git run failed", "err", err, "output", preview, "truncated", truncated)
		return string(output), fmt.Errorf("git %s failed: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	log.Debug("git run ok", "output_len", len(output))
	return string(output), nil
}

// Output runs git and returns trimmed stdout. Stderr only feeds the error.
func Output(ctx context.Context, dir string, args ...string) (string, error) {
	log := pslog.Ctx(ctx).With("dir", dir, "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		log.Warn("git output failed", "err", err, "stderr", msg)
		return "", fmt.Errorf("git %s failed: %w (%s)", strings.Join(args, " "), err, msg)
	}
	log.Debug("git output ok", "output_len", len(out))
	return strings.TrimSpace(string(out)), nil
}

// Provenance answers source-control queries for the repository at Dir.
type Provenance struct {
	Dir    string
	Remote string
}

// NewProvenance returns provenance for dir using the origin remote.
func NewProvenance(dir string) *Provenance {
	return &Provenance{Dir: dir, Remote: "origin"}
}

// Branch returns the current branch name.
func (p *Provenance) Branch(ctx context.Context) (string, error) {
	branch, err := Output(ctx, p.Dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" {
		return "", fmt.Errorf("detached HEAD in %s: check out a branch", p.Dir)
	}
	return branch, nil
}

// ShortRevision returns the abbreviated HEAD commit.
func (p *Provenance) ShortRevision(ctx context.Context) (string, error) {
	return Output(ctx, p.Dir, "rev-parse", "--short", "HEAD")
}

// RemoteURL returns the URL of the configured remote.
func (p *Provenance) RemoteURL(ctx context.Context) (string, error) {
	remote := p.Remote
	if remote == "" {
		remote = "origin"
	}
	return Output(ctx, p.Dir, "config", "--get", "remote."+remote+".url")
}

// Dirty reports whether the work tree has uncommitted changes.
func (p *Provenance) Dirty(ctx context.Context) (bool, error) {
	out, err := Output(ctx, p.Dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}
