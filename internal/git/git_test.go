package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInRepo(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	if _, err := Run(context.Background(), dir, "init"); err != nil {
		t.Fatalf("git init: %v", err)
	}
	if _, err := Run(context.Background(), dir, "status"); err != nil {
		t.Fatalf("git status: %v", err)
	}
}

func TestRunOutsideRepoErrors(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	if _, err := Run(context.Background(), dir, "status"); err == nil {
		t.Fatalf("expected error outside repo")
	}
}

func TestProvenanceQueries(t *testing.T) {
	requireGit(t)
	dir := initRepo(t, "Feature-X")
	ctx := context.Background()
	if _, err := Run(ctx, dir, "remote", "add", "origin", "git@github.com:sciexp/Flytezen.git"); err != nil {
		t.Fatalf("git remote add: %v", err)
	}
	p := NewProvenance(dir)

	branch, err := p.Branch(ctx)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if branch != "Feature-X" {
		t.Fatalf("unexpected branch %q", branch)
	}
	rev, err := p.ShortRevision(ctx)
	if err != nil {
		t.Fatalf("short revision: %v", err)
	}
	if len(rev) < 7 {
		t.Fatalf("unexpected revision %q", rev)
	}
	remote, err := p.RemoteURL(ctx)
	if err != nil {
		t.Fatalf("remote url: %v", err)
	}
	if remote != "git@github.com:sciexp/Flytezen.git" {
		t.Fatalf("unexpected remote %q", remote)
	}
	dirty, err := p.Dirty(ctx)
	if err != nil {
		t.Fatalf("dirty: %v", err)
	}
	if dirty {
		t.Fatalf("expected clean tree")
	}
	if err := os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("x\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if dirty, _ := p.Dirty(ctx); !dirty {
		t.Fatalf("expected dirty tree")
	}
}

func TestProvenanceIgnoresStderr(t *testing.T) {
	requireGit(t)
	dir := initRepo(t, "main")
	ctx := context.Background()
	if _, err := Run(ctx, dir, "remote", "add", "origin", "https://github.com/acme/flytezen.git"); err != nil {
		t.Fatalf("git remote add: %v", err)
	}
	t.Setenv("GIT_TRACE", "1")
	p := NewProvenance(dir)

	branch, err := p.Branch(ctx)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if branch != "main" {
		t.Fatalf("unexpected branch %q", branch)
	}
	rev, err := p.ShortRevision(ctx)
	if err != nil {
		t.Fatalf("short revision: %v", err)
	}
	if strings.ContainsAny(rev, " \n") || strings.Contains(rev, "trace") {
		t.Fatalf("revision contains stderr output: %q", rev)
	}
	remote, err := p.RemoteURL(ctx)
	if err != nil {
		t.Fatalf("remote url: %v", err)
	}
	if remote != "https://github.com/acme/flytezen.git" {
		t.Fatalf("unexpected remote %q", remote)
	}
}

func TestProvenanceWithoutRemoteFails(t *testing.T) {
	requireGit(t)
	dir := initRepo(t, "main")
	if _, err := NewProvenance(dir).RemoteURL(context.Background()); err == nil {
		t.Fatalf("expected error without remote")
	}
}

func TestProvenanceOutsideRepoFails(t *testing.T) {
	requireGit(t)
	if _, err := NewProvenance(t.TempDir()).Branch(context.Background()); err == nil {
		t.Fatalf("expected error outside repo")
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initRepo(t *testing.T, branch string) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	steps := [][]string{
		{"init"},
		{"checkout", "-b", branch},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "tester"},
	}
	for _, args := range steps {
		if _, err := Run(ctx, dir, args...); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Run(ctx, dir, "add", "-A"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if _, err := Run(ctx, dir, "commit", "-m", "init"); err != nil {
		t.Fatalf("git commit: %v", err)
	}
	return dir
}
