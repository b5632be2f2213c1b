package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected build version without dirty suffix, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v1.2.3+dirty" {
		t.Fatalf("expected build version with dirty suffix, got %q", got)
	}
	if got := Get(); got.Version != "v1.2.3+dirty" || got.GoVersion == "" || got.Module == "" {
		t.Fatalf("unexpected info %+v", got)
	}
}

func TestPseudoFromBuildInfo(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := pseudoFromBuildInfo(info)
	if want := "v0.0.0-20250102030405-1234567890ab+dirty"; got != want {
		t.Fatalf("pseudo version %q, want %q", got, want)
	}
	if pseudoFromBuildInfo(nil) != "" {
		t.Fatalf("expected empty version for nil build info")
	}
	if pseudoFromBuildInfo(&debug.BuildInfo{}) != "" {
		t.Fatalf("expected empty version without vcs settings")
	}
}

func TestModuleFallback(t *testing.T) {
	if got := Module(); !strings.Contains(got, "/") {
		t.Fatalf("unexpected module %q", got)
	}
}
