package staging

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/schema"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func readBundle(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	out := map[string]string{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("tar: %v", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read entry: %v", err)
		}
		out[hdr.Name] = string(body)
	}
	return out
}

func TestPackageWritesBundle(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"flytezen/__init__.py":                  "",
		"flytezen/workflows/lrwine.py":          "def training_workflow(): pass\n",
		"flytezen/__pycache__/lrwine.pyc":       "bytecode",
		".git/HEAD":                             "ref: refs/heads/main\n",
		"flytezen/workflows/.mypy_cache/x.json": "{}",
	})
	out := t.TempDir()
	bundle, err := NewTarballPackager().Package(context.Background(), root, out)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if bundle.Path != filepath.Join(out, BundleName) {
		t.Fatalf("unexpected path %q", bundle.Path)
	}
	if len(bundle.Digest) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", bundle.Digest)
	}
	info, err := os.Stat(bundle.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != bundle.Size {
		t.Fatalf("size %d, file has %d", bundle.Size, info.Size())
	}

	entries := readBundle(t, bundle.Path)
	var names []string
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	want := []string{"flytezen/__init__.py", "flytezen/workflows/lrwine.py"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("entries %v, want %v", names, want)
	}
	if entries["flytezen/workflows/lrwine.py"] != "def training_workflow(): pass\n" {
		t.Fatalf("unexpected content %q", entries["flytezen/workflows/lrwine.py"])
	}
}

func TestPackageDigestIsStable(t *testing.T) {
	files := map[string]string{"a.py": "print(1)\n", "pkg/b.py": "x = 2\n"}
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeTree(t, rootA, files)
	writeTree(t, rootB, files)

	a, err := NewTarballPackager().Package(context.Background(), rootA, t.TempDir())
	if err != nil {
		t.Fatalf("package a: %v", err)
	}
	b, err := NewTarballPackager().Package(context.Background(), rootB, t.TempDir())
	if err != nil {
		t.Fatalf("package b: %v", err)
	}
	if a.Digest != b.Digest {
		t.Fatalf("identical trees produced different digests: %s vs %s", a.Digest, b.Digest)
	}

	writeTree(t, rootB, map[string]string{"pkg/b.py": "x = 3\n"})
	c, err := NewTarballPackager().Package(context.Background(), rootB, t.TempDir())
	if err != nil {
		t.Fatalf("package c: %v", err)
	}
	if c.Digest == a.Digest {
		t.Fatalf("changed tree kept digest %s", c.Digest)
	}
}

func TestPackageRejectsBadRoots(t *testing.T) {
	p := NewTarballPackager()
	if _, err := p.Package(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir()); err == nil {
		t.Fatalf("expected error for missing root")
	}
	empty := t.TempDir()
	writeTree(t, empty, map[string]string{".git/HEAD": "x"})
	if _, err := p.Package(context.Background(), empty, t.TempDir()); err == nil {
		t.Fatalf("expected error for root with no packageable files")
	}
	file := filepath.Join(t.TempDir(), "f.py")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := p.Package(context.Background(), file, t.TempDir()); err == nil {
		t.Fatalf("expected error for file root")
	}
}

func TestPackageHonoursContext(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "x"})
	out := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTarballPackager().Package(ctx, root, out); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, BundleName)); !os.IsNotExist(err) {
		t.Fatalf("expected partial bundle to be removed, got %v", err)
	}
}

func TestIgnorePatterns(t *testing.T) {
	p := &TarballPackager{Ignore: []string{".git", "*.pyc"}}
	cases := map[string]bool{
		".git":       true,
		"module.pyc": true,
		"module.py":  false,
		"git":        false,
	}
	for name, want := range cases {
		if got := p.ignored(name); got != want {
			t.Fatalf("ignored(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Endpoint: "localhost:30002", AccessKey: "minio", SecretKey: "miniostorage"}
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "endpoint", mutate: func(c *Config) { c.Endpoint = " " }, wantErr: "endpoint is required"},
		{name: "access key", mutate: func(c *Config) { c.AccessKey = "" }, wantErr: "access key"},
		{name: "secret key", mutate: func(c *Config) { c.SecretKey = "" }, wantErr: "secret key"},
		{name: "scheme", mutate: func(c *Config) { c.Endpoint = "http://localhost:30002" }, wantErr: "scheme"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewMinIOUploader(t *testing.T) {
	if _, err := NewMinIOUploader(Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
	u, err := NewMinIOUploader(Config{Endpoint: "localhost:30002", AccessKey: "a", SecretKey: "b", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	err = u.Upload(context.Background(), core.SourceBundle{Path: "missing.tar.gz"}, schema.StagingLocation{})
	if err == nil || !strings.Contains(err.Error(), "invalid staging location") {
		t.Fatalf("expected invalid location error, got %v", err)
	}
	if _, err := NewMinIOUploaderWithClient(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
