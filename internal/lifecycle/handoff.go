package lifecycle

import (
	"context"

	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/enclave/internal/component"
	"github.com/anvil-platform/enclave/internal/resolver"
)

// Handoff is a detached tree kept alive for the next Attach of the same
// key. Until adopted or released it holds its node references, so a
// started tree stays started and its hooks do not run again.
type Handoff struct {
	m       *Manager
	key     component.Key
	tree    *tree
	started bool
	// done is set once adopted or released. Guarded by m.mu.
	done bool
}

func (h *Handoff) Key() component.Key { return h.key }

// Started reports whether the tree was started when handed off.
func (h *Handoff) Started() bool { return h.started }

// Handoff frees the slot of id without stopping it. The returned handle is
// adopted by the next Attach of a configuration with the same key.
func (m *Manager) Handoff(ctx context.Context, id ID) (*Handoff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.slot(id)
	if err != nil {
		return nil, err
	}
	m.slots[id] = nil
	h := &Handoff{m: m, key: s.tree.cfg.Key, tree: s.tree, started: s.started}
	m.handoffs[h.key] = append(m.handoffs[h.key], h)
	log.FromContext(ctx).V(1).Info("handed off", "attachment", id, "component", s.tree.cfg.String(), "started", s.started)
	return h, nil
}

// Release stops and dereferences a handoff nobody adopted.
func (h *Handoff) Release(ctx context.Context) error {
	m := h.m
	m.mu.Lock()
	if h.done {
		m.mu.Unlock()
		return ErrHandoffDone
	}
	h.done = true
	m.dropHandoff(h)
	var last []*resolver.Node
	if h.started {
		last = releaseAll(h.tree)
	}
	m.unref(h.tree)
	m.mu.Unlock()

	logger := log.FromContext(ctx).WithValues("component", h.tree.cfg.String())
	m.stopNodes(ctx, logger, last)
	logger.V(1).Info("released handoff")
	return nil
}

// Pending reports the handoffs waiting for adoption.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, hs := range m.handoffs {
		n += len(hs)
	}
	return n
}

// Handoffs returns the handoffs waiting for adoption, oldest first per key.
func (m *Manager) Handoffs() []*Handoff {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Handoff
	for _, k := range sets.List(sets.KeySet(m.handoffs)) {
		out = append(out, m.handoffs[k]...)
	}
	return out
}

// dropHandoff removes h from the pending list. Callers hold m.mu.
func (m *Manager) dropHandoff(h *Handoff) {
	pending := m.handoffs[h.key]
	for i, p := range pending {
		if p == h {
			pending = append(pending[:i:i], pending[i+1:]...)
			break
		}
	}
	if len(pending) == 0 {
		delete(m.handoffs, h.key)
		return
	}
	m.handoffs[h.key] = pending
}
