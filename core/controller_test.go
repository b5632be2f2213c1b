package core

import (
	"context"
	"reflect"
	"testing"

	"github.com/sciexp/flytezen/schema"
)

func TestControllerProdEndToEnd(t *testing.T) {
	backend := &fakeBackend{
		handle: schema.ExecutionHandle{Project: "flytesnacks", Domain: "development", Name: "acme-main-16323b3-k2j9"},
		awaits: []awaitStep{{err: schema.ErrPollTimeout}, {done: succeeded()}},
	}
	var notified []string
	ctrl := &Controller{
		Source:    fakeSource{remote: "git@github.com:org/acme.git", branch: "main", revision: "16323b3"},
		Submitter: &Submitter{Backend: backend},
		Monitor:   &Monitor{Watcher: backend, Sleep: noSleep},
		BaseImage: "ghcr.io/org/acme",
		Defaults:  ContextDefaults{Project: "flytesnacks", Domain: "development", Wait: true},
		OnSubmitted: func(_ context.Context, ec schema.ExecutionContext, sub Submission) {
			notified = append(notified, ec.Version+"/"+sub.Handle.Name)
		},
	}

	res, err := ctrl.Run(context.Background(), schema.ModeProd, &fakeEntity{ref: wineRef}, schema.Inputs{"max_iter": 2000})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Context.Version != "acme-main-16323b3" || res.Context.Tag != "16323b3" {
		t.Fatalf("unexpected context %+v", res.Context)
	}
	if res.Identity.String() != "acme-main-16323b3" {
		t.Fatalf("unexpected identity %q", res.Identity.String())
	}
	want := []string{"register", "submit", "await", "sync", "await"}
	if !reflect.DeepEqual(backend.callLog(), want) {
		t.Fatalf("calls %v, want %v", backend.callLog(), want)
	}
	if res.Monitor == nil || res.Monitor.State != StateSucceeded {
		t.Fatalf("expected succeeded monitor result, got %+v", res.Monitor)
	}
	if !reflect.DeepEqual(notified, []string{"acme-main-16323b3/acme-main-16323b3-k2j9"}) {
		t.Fatalf("unexpected notifications %v", notified)
	}
}

func TestControllerNoWaitSkipsMonitor(t *testing.T) {
	backend := &fakeBackend{handle: schema.ExecutionHandle{Name: "exec"}}
	ctrl := &Controller{
		Source:    fakeSource{remote: "git@github.com:org/acme.git", branch: "main", revision: "16323b3"},
		Submitter: &Submitter{Backend: backend},
		Monitor:   &Monitor{Watcher: backend, Sleep: noSleep},
		BaseImage: "img",
		Defaults:  ContextDefaults{Wait: false},
	}
	res, err := ctrl.Run(context.Background(), schema.ModeProd, &fakeEntity{ref: wineRef}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Monitor != nil {
		t.Fatalf("expected no monitoring")
	}
	if backend.count("await") != 0 {
		t.Fatalf("unexpected await")
	}
}

func TestControllerLocalSkipsBackend(t *testing.T) {
	backend := &fakeBackend{}
	entity := &fakeEntity{ref: wineRef, outputs: schema.Outputs{"o0": 1}}
	ctrl := &Controller{
		Source:    fakeSource{remote: "git@github.com:org/acme.git", branch: "main", revision: "16323b3"},
		Submitter: &Submitter{Backend: backend},
		Monitor:   &Monitor{Watcher: backend, Sleep: noSleep},
		Defaults:  ContextDefaults{Wait: true, Suffix: func() (string, error) { return "abc", nil }},
	}
	res, err := ctrl.Run(context.Background(), schema.ModeLocal, entity, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Context.Version != "acme-main-16323b3-local-abc" {
		t.Fatalf("unexpected version %q", res.Context.Version)
	}
	if res.Submission.Outputs["o0"] != 1 || entity.calls != 1 {
		t.Fatalf("expected local outputs, got %+v", res.Submission)
	}
	if len(backend.callLog()) != 0 || res.Monitor != nil {
		t.Fatalf("local run touched the backend: %v", backend.callLog())
	}
}

func TestControllerProvenanceFailureStopsEarly(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := &Controller{
		Source:    fakeSource{branchErr: errBoom},
		Submitter: &Submitter{Backend: backend},
	}
	_, err := ctrl.Run(context.Background(), schema.ModeProd, &fakeEntity{ref: wineRef}, nil)
	if KindOf(err) != ErrorProvenance {
		t.Fatalf("expected provenance error, got %v", err)
	}
	if len(backend.callLog()) != 0 {
		t.Fatalf("expected no backend calls")
	}
}
