package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EntryPoint is a component's start/stop hook pair. Both run in a freshly
// pushed environment frame carried by ctx.
type EntryPoint interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// EntryPointFuncs adapts plain functions. A nil func is a no-op.
type EntryPointFuncs struct {
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
}

func (e EntryPointFuncs) Start(ctx context.Context) error {
	if e.StartFunc == nil {
		return nil
	}
	return e.StartFunc(ctx)
}

func (e EntryPointFuncs) Stop(ctx context.Context) error {
	if e.StopFunc == nil {
		return nil
	}
	return e.StopFunc(ctx)
}

// Registry maps the entry point identifiers named by configurations to
// implementations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]EntryPoint
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]EntryPoint{}}
}

// Register binds id to ep, replacing any previous binding.
func (r *Registry) Register(id string, ep EntryPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = ep
}

// MustRegister is Register that refuses to replace.
func (r *Registry) MustRegister(id string, ep EntryPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		panic(fmt.Sprintf("entry point %q registered twice", id))
	}
	r.entries[id] = ep
}

func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *Registry) Lookup(id string) (EntryPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.entries[id]
	return ep, ok
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
