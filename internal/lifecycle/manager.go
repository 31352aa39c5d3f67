// Package lifecycle attaches compiled configurations, realizing them into
// shared resolution nodes, and drives the start and stop hooks of the
// components they contain.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/enclave/internal/component"
	"github.com/anvil-platform/enclave/internal/environment"
	"github.com/anvil-platform/enclave/internal/resolver"
)

// ID identifies an attachment. Ids of detached attachments are reused,
// lowest first.
type ID int

// Event describes one hook invocation. Err is nil on success.
type Event struct {
	Phase      Phase
	Component  string
	EntryPoint string
	Err        error
}

// Observer receives every hook invocation.
type Observer func(Event)

type Option func(*Manager)

// WithRegistry sets the entry point registry. The default is empty.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithSystem sets the environment hooks run in. The default is
// environment.Default().
func WithSystem(s *environment.System) Option {
	return func(m *Manager) { m.system = s }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// tree is a realized configuration. order lists its distinct nodes,
// dependencies first.
type tree struct {
	cfg   *component.Configuration
	root  *resolver.Node
	order []*resolver.Node
	// keys are the cached nodes the tree holds a reference on.
	keys sets.Set[component.Key]
}

type slot struct {
	tree    *tree
	started bool
}

type entry struct {
	node *resolver.Node
	refs int
}

// Manager owns the attachment table and the node cache. Its methods are safe
// for concurrent use; hooks run outside the table lock, so callers that need
// hook ordering across attachments serialize their calls.
type Manager struct {
	registry *Registry
	system   *environment.System
	observer Observer

	mu       sync.Mutex
	slots    []*slot
	cache    map[component.Key]*entry
	handoffs map[component.Key][]*Handoff
}

func New(opts ...Option) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		cache:    map[component.Key]*entry{},
		handoffs: map[component.Key][]*Handoff{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.system == nil {
		m.system = environment.Default()
	}
	return m
}

func (m *Manager) Registry() *Registry { return m.registry }

// Attach realizes cfg and returns a new, stopped attachment. Nodes of
// platform and installation scoped configurations are shared with every
// other attachment holding the same key; attachment scoped ones are private
// to this call. A pending handoff of the same key is adopted instead,
// keeping its started state.
func (m *Manager) Attach(ctx context.Context, cfg *component.Configuration) (ID, error) {
	if cfg == nil {
		return 0, &AttachmentError{Component: "<nil>", Err: fmt.Errorf("nil configuration")}
	}
	logger := log.FromContext(ctx).WithValues("component", cfg.String())
	if err := ctx.Err(); err != nil {
		return 0, &AttachmentError{Component: cfg.String(), Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return 0, &AttachmentError{Component: cfg.String(), Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pending := m.handoffs[cfg.Key]; len(pending) > 0 {
		h := pending[0]
		m.dropHandoff(h)
		h.done = true
		id := m.allocate(&slot{tree: h.tree, started: h.started})
		logger.V(1).Info("adopted handed off attachment", "attachment", id, "started", h.started)
		return id, nil
	}

	t, err := m.realize(cfg)
	if err != nil {
		m.sweep()
		return 0, &AttachmentError{Component: cfg.String(), Err: err}
	}
	id := m.allocate(&slot{tree: t})
	logger.V(1).Info("attached", "attachment", id, "nodes", len(t.order))
	return id, nil
}

func (m *Manager) allocate(s *slot) ID {
	for i, existing := range m.slots {
		if existing == nil {
			m.slots[i] = s
			return ID(i)
		}
	}
	m.slots = append(m.slots, s)
	return ID(len(m.slots) - 1)
}

func (m *Manager) slot(id ID) (*slot, error) {
	if id < 0 || int(id) >= len(m.slots) || m.slots[id] == nil {
		return nil, fmt.Errorf("attachment %d: %w", id, ErrUnknownAttachment)
	}
	return m.slots[id], nil
}

// realize builds the node tree of cfg and takes a reference on every cached
// node it reaches. Callers hold m.mu.
func (m *Manager) realize(cfg *component.Configuration) (*tree, error) {
	local := map[component.Key]*resolver.Node{}
	var build func(c *component.Configuration) (*resolver.Node, error)
	build = func(c *component.Configuration) (*resolver.Node, error) {
		if c.Scope == component.ScopeAttachment {
			if n, ok := local[c.Key]; ok {
				return n, nil
			}
		} else if e, ok := m.cache[c.Key]; ok {
			return e.node, nil
		}
		deps := make([]*resolver.Node, len(c.Dependencies))
		for i, d := range c.Dependencies {
			n, err := build(d)
			if err != nil {
				return nil, err
			}
			deps[i] = n
		}
		n, err := resolver.NewNode(c, deps)
		if err != nil {
			return nil, err
		}
		if c.Scope == component.ScopeAttachment {
			local[c.Key] = n
		} else {
			m.cache[c.Key] = &entry{node: n}
		}
		return n, nil
	}

	root, err := build(cfg)
	if err != nil {
		return nil, err
	}

	t := &tree{cfg: cfg, root: root, keys: sets.New[component.Key]()}
	cfg.Walk(func(c *component.Configuration) {
		if c.Scope == component.ScopeAttachment {
			return
		}
		if _, ok := m.cache[c.Key]; ok {
			t.keys.Insert(c.Key)
		}
	})
	for k := range t.keys {
		m.cache[k].refs++
	}

	seen := map[*resolver.Node]bool{}
	var visit func(n *resolver.Node)
	visit = func(n *resolver.Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		for _, d := range n.Dependencies() {
			visit(d)
		}
		t.order = append(t.order, n)
	}
	visit(root)
	return t, nil
}

// unref drops the references t holds and evicts nodes nobody references.
// Callers hold m.mu.
func (m *Manager) unref(t *tree) {
	for k := range t.keys {
		if e, ok := m.cache[k]; ok {
			e.refs--
		}
	}
	m.sweep()
}

func (m *Manager) sweep() {
	for k, e := range m.cache {
		if e.refs <= 0 {
			delete(m.cache, k)
		}
	}
}

// Start marks id started. Every node of the tree counts one more attachment,
// dependencies first; a node reaching its first attachment runs its start
// hooks. Starting a started attachment does nothing.
func (m *Manager) Start(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	s, err := m.slot(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if s.started {
		m.mu.Unlock()
		return nil
	}
	s.started = true
	var first []*resolver.Node
	for _, n := range s.tree.order {
		if n.Acquire() {
			first = append(first, n)
		}
	}
	m.mu.Unlock()

	logger := log.FromContext(ctx).WithValues("attachment", id, "component", s.tree.cfg.String())
	logger.V(1).Info("starting", "components", len(first))
	for _, n := range first {
		m.runHooks(ctx, logger, n, PhaseStart)
	}
	return nil
}

// Stop is the mirror of Start: the root first, then its dependencies; a node
// losing its last attachment runs its stop hooks.
func (m *Manager) Stop(ctx context.Context, id ID) error {
	m.mu.Lock()
	s, err := m.slot(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	last := m.stop(s)
	m.mu.Unlock()

	logger := log.FromContext(ctx).WithValues("attachment", id, "component", s.tree.cfg.String())
	m.stopNodes(ctx, logger, last)
	return nil
}

// stop releases the nodes of a started slot and returns those that lost
// their last attachment. Callers hold m.mu.
func (m *Manager) stop(s *slot) []*resolver.Node {
	if !s.started {
		return nil
	}
	s.started = false
	return releaseAll(s.tree)
}

func releaseAll(t *tree) []*resolver.Node {
	var last []*resolver.Node
	for i := len(t.order) - 1; i >= 0; i-- {
		if n := t.order[i]; n.Release() {
			last = append(last, n)
		}
	}
	return last
}

func (m *Manager) stopNodes(ctx context.Context, logger logr.Logger, nodes []*resolver.Node) {
	if len(nodes) == 0 {
		return
	}
	logger.V(1).Info("stopping", "components", len(nodes))
	for _, n := range nodes {
		m.runHooks(ctx, logger, n, PhaseStop)
	}
}

// Detach stops id if needed, frees its slot and drops its node references.
func (m *Manager) Detach(ctx context.Context, id ID) error {
	m.mu.Lock()
	s, err := m.slot(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	last := m.stop(s)
	m.slots[id] = nil
	m.unref(s.tree)
	m.mu.Unlock()

	logger := log.FromContext(ctx).WithValues("attachment", id, "component", s.tree.cfg.String())
	m.stopNodes(ctx, logger, last)
	logger.V(1).Info("detached")
	return nil
}

// IsStarted reports whether id is started.
func (m *Manager) IsStarted(id ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.slot(id)
	if err != nil {
		return false, err
	}
	return s.started, nil
}

// Node returns the root node of id.
func (m *Manager) Node(id ID) (*resolver.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.slot(id)
	if err != nil {
		return nil, err
	}
	return s.tree.root, nil
}

// Configuration returns the configuration id was attached with.
func (m *Manager) Configuration(id ID) (*component.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.slot(id)
	if err != nil {
		return nil, err
	}
	return s.tree.cfg, nil
}

// Attachments lists the attached ids in ascending order.
func (m *Manager) Attachments() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ID
	for i, s := range m.slots {
		if s != nil {
			out = append(out, ID(i))
		}
	}
	return out
}

// Keys lists the keys of the cached shared nodes, sorted.
func (m *Manager) Keys() []component.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sets.List(sets.KeySet(m.cache))
}

// Lookup returns the cached shared node of key.
func (m *Manager) Lookup(key component.Key) (*resolver.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	return e.node, true
}
