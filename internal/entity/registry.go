// Package entity resolves the workflows and tasks a run can target.
package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/internal/appconfig"
	"github.com/sciexp/flytezen/schema"
)

// Definition is a registered entity with its default inputs.
type Definition struct {
	Entity   core.Entity
	Defaults schema.Inputs
}

// Ref returns the entity reference.
func (d Definition) Ref() schema.EntityRef {
	return d.Entity.Ref()
}

// Local reports whether the entity can run in local mode.
func (d Definition) Local() bool {
	_, remote := d.Entity.(remoteOnly)
	return !remote
}

// Registry maps entity keys to definitions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Definition
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Definition)}
}

// FromConfig registers every entity declared in cfg.
func FromConfig(cfg appconfig.Config) (*Registry, error) {
	reg := NewRegistry()
	for _, ec := range cfg.Entities {
		ref := ec.Ref()
		var ent core.Entity
		if len(ec.LocalCommand) > 0 {
			ent = &Command{EntityRef: ref, Argv: append([]string(nil), ec.LocalCommand...), Dir: cfg.PackagePath}
		} else {
			ent = remoteOnly{ref: ref}
		}
		if err := reg.Add(ent, schema.Inputs(ec.Inputs)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Add registers ent under "<module>_<name>" and "<module>.<name>".
func (r *Registry) Add(ent core.Entity, defaults schema.Inputs) error {
	if ent == nil {
		return fmt.Errorf("entity is required")
	}
	ref := ent.Ref()
	if strings.TrimSpace(ref.Module) == "" || strings.TrimSpace(ref.Name) == "" {
		return fmt.Errorf("entity module and name are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[ref.Key()]; exists {
		return fmt.Errorf("entity %s declared twice", ref.QualifiedName())
	}
	def := Definition{Entity: ent, Defaults: CloneInputs(defaults)}
	r.entries[ref.Key()] = def
	r.entries[ref.QualifiedName()] = def
	r.order = append(r.order, ref.Key())
	return nil
}

// AddFunc registers an in-process function as an entity.
func (r *Registry) AddFunc(ref schema.EntityRef, fn Func, defaults schema.Inputs) error {
	if fn == nil {
		return fmt.Errorf("entity %s: function is required", ref.QualifiedName())
	}
	return r.Add(&FuncEntity{EntityRef: ref, Fn: fn}, defaults)
}

// Lookup resolves key in either naming form.
func (r *Registry) Lookup(key string) (Definition, error) {
	key = strings.TrimSpace(key)
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.entries[key]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q (known: %s)", schema.ErrEntityNotFound, key, strings.Join(r.keysLocked(), ", "))
	}
	return def, nil
}

// List returns definitions sorted by key.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, key := range r.keysLocked() {
		out = append(out, r.entries[key])
	}
	return out
}

func (r *Registry) keysLocked() []string {
	keys := append([]string(nil), r.order...)
	sort.Strings(keys)
	return keys
}

// Func is an in-process entity implementation.
type Func func(ctx context.Context, inputs schema.Inputs) (schema.Outputs, error)

// FuncEntity adapts a Func to core.Entity.
type FuncEntity struct {
	schema.EntityRef
	Fn Func
}

// Ref implements core.Entity.
func (f *FuncEntity) Ref() schema.EntityRef { return f.EntityRef }

// Call implements core.Entity.
func (f *FuncEntity) Call(ctx context.Context, inputs schema.Inputs) (schema.Outputs, error) {
	return f.Fn(ctx, inputs)
}

type remoteOnly struct {
	ref schema.EntityRef
}

func (e remoteOnly) Ref() schema.EntityRef { return e.ref }

func (e remoteOnly) Call(context.Context, schema.Inputs) (schema.Outputs, error) {
	return nil, fmt.Errorf("entity %s has no local_command; run it in dev or prod mode", e.ref.QualifiedName())
}
