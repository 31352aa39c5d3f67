// Package resolver implements resolution nodes: the live delegation units
// realized from component configurations.
package resolver

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/anvil-platform/enclave/internal/component"
	"github.com/anvil-platform/enclave/internal/router"
)

// Well known property keys.
const (
	PropertyAttachment = "attachment"
	PropertyName       = "name"
	PropertyKey        = "key"
	PropertyLocations  = "locations"
)

// Node is a realized configuration. Its delegation lists point directly at
// the nodes to search, so lookups never walk the configuration DAG. The
// delegation data is immutable after construction; only the property bag
// and the attachment counter change.
type Node struct {
	cfg  *component.Configuration
	deps []*Node
	// delegates mirrors cfg.PathIDs. A nil entry is a delegate that was not
	// realized.
	delegates [][]*Node

	mu          sync.Mutex
	attachments int
	props       map[string]string
}

// NewNode realizes cfg. deps must mirror cfg.Dependencies index for index;
// a nil entry leaves that dependency unrealized and lookups routed through
// it fail with ReasonNotAttached.
func NewNode(cfg *component.Configuration, deps []*Node) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration: %w", ErrShape)
	}
	if len(deps) != len(cfg.Dependencies) {
		return nil, fmt.Errorf("%s: %d dependency nodes for %d dependencies: %w", cfg, len(deps), len(cfg.Dependencies), ErrShape)
	}
	for i, d := range deps {
		if d != nil && d.cfg.Key != cfg.Dependencies[i].Key {
			return nil, fmt.Errorf("%s: dependency %d is %s, want %s: %w", cfg, i, d.cfg.Key.Short(), cfg.Dependencies[i].Key.Short(), ErrShape)
		}
	}

	n := &Node{
		cfg:  cfg,
		deps: append([]*Node(nil), deps...),
		props: map[string]string{
			PropertyAttachment: "0",
			PropertyName:       cfg.String(),
			PropertyKey:        string(cfg.Key),
		},
	}
	locs := make([]string, len(cfg.Locations))
	for i, l := range cfg.Locations {
		locs[i] = l.Name()
	}
	n.props[PropertyLocations] = "[" + strings.Join(locs, ", ") + "]"

	n.delegates = make([][]*Node, len(cfg.PathIDs))
	for i, paths := range cfg.PathIDs {
		list := make([]*Node, 0, len(paths))
		for _, p := range paths {
			list = append(list, n.convertPath(p))
		}
		n.delegates[i] = list
	}
	return n, nil
}

// convertPath follows a path through the realized dependency tree.
func (n *Node) convertPath(path int) *Node {
	cur := n
	for path != component.Local {
		step := cur.cfg.Paths[path]
		cur = cur.deps[step.Dependency]
		if cur == nil {
			return nil
		}
		path = step.Next
	}
	return cur
}

func (n *Node) Configuration() *component.Configuration { return n.cfg }

func (n *Node) Key() component.Key { return n.cfg.Key }

// Dependencies returns the dependency nodes in configuration order.
func (n *Node) Dependencies() []*Node { return append([]*Node(nil), n.deps...) }

func (n *Node) String() string { return n.cfg.String() }

// Property returns a property value, or "" when unset.
func (n *Node) Property(key string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.props[key]
}

func (n *Node) SetProperty(key, value string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.props[key] = value
}

// Properties returns a copy of the property bag.
func (n *Node) Properties() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]string, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}
	return out
}

// Attachments returns the number of started attachments using the node.
func (n *Node) Attachments() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attachments
}

// Acquire counts one more started attachment and reports whether it was the
// first.
func (n *Node) Acquire() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attachments++
	n.props[PropertyAttachment] = strconv.Itoa(n.attachments)
	return n.attachments == 1
}

// Release counts one attachment fewer and reports whether it was the last.
// Releasing an idle node is a no-op.
func (n *Node) Release() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.attachments == 0 {
		return false
	}
	n.attachments--
	n.props[PropertyAttachment] = strconv.Itoa(n.attachments)
	return n.attachments == 0
}

// LoadSymbol resolves a class name.
func (n *Node) LoadSymbol(name string) (Unit, error) {
	return n.find(name, router.ClassResource(name), KindClass, n.cfg.Classes)
}

// Resource resolves a resource name.
func (n *Node) Resource(name string) (Unit, error) {
	return n.find(name, name, KindResource, n.cfg.Resources)
}

func (n *Node) find(name, resource string, kind Kind, r router.Router) (Unit, error) {
	if r == nil {
		r = n.cfg.Resources
		if kind == KindClass {
			r = router.Classes(r)
		}
	}
	idx, ok := r.Route(name)
	if !ok || idx < 0 || idx >= len(n.delegates) {
		return Unit{}, n.notFound(name, kind, ReasonNoRoute)
	}
	reason := ReasonTargetRemoved
	for _, d := range n.delegates[idx] {
		if d == nil {
			reason = ReasonNotAttached
			continue
		}
		if u, ok := d.findLocal(name, resource, kind); ok {
			return u, nil
		}
	}
	return Unit{}, n.notFound(name, kind, reason)
}

// Resources returns every copy of a resource visible to the node. An
// unrouted name yields no units and no error.
func (n *Node) Resources(name string) ([]Unit, error) {
	idx, ok := n.cfg.Resources.Route(name)
	if !ok || idx < 0 || idx >= len(n.delegates) {
		return nil, nil
	}
	var out []Unit
	seen := map[string]bool{}
	for _, d := range n.delegates[idx] {
		if d == nil {
			continue
		}
		for _, loc := range d.cfg.Locations {
			res, ok := loc.Lookup(name)
			if !ok || seen[res.URL()] {
				continue
			}
			seen[res.URL()] = true
			out = append(out, Unit{Name: name, Kind: KindResource, Resource: res, Node: d})
		}
	}
	return out, nil
}

// findLocal searches only the node's own locations, in order.
func (n *Node) findLocal(name, resource string, kind Kind) (Unit, bool) {
	for _, loc := range n.cfg.Locations {
		if res, ok := loc.Lookup(resource); ok {
			return Unit{Name: name, Kind: kind, Resource: res, Node: n}, true
		}
	}
	return Unit{}, false
}

func (n *Node) notFound(name string, kind Kind, reason Reason) error {
	return &SymbolNotFoundError{Name: name, Kind: kind, Reason: reason, Properties: n.Properties()}
}

// Describe returns the node's diagnostics.
func (n *Node) Describe() Diagnostics {
	d := Diagnostics{
		Key:         string(n.cfg.Key),
		Name:        n.cfg.String(),
		Attachments: n.Attachments(),
	}
	for _, l := range n.cfg.Locations {
		d.Locations = append(d.Locations, l.Name())
	}
	for _, list := range n.delegates {
		names := make([]string, len(list))
		for i, dn := range list {
			if dn != nil {
				names[i] = dn.String()
			}
		}
		d.Delegates = append(d.Delegates, names)
	}
	return d
}
