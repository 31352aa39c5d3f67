// Package graph models the artifact dependency graph handed to the compiler
// by an external resolver, and the transformations applied to it before
// compilation.
//
// The graph may contain cycles. Cycle handling is left to a MergePolicy.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/anvil-platform/enclave/internal/location"
)

var (
	ErrMissingRoot    = errors.New("graph has no root artifact")
	ErrUnknownTarget  = errors.New("dependency targets an unknown artifact")
	ErrDuplicate      = errors.New("artifact declared twice")
	ErrInvalidID      = errors.New("invalid artifact id")
	ErrEmptyComponent = errors.New("merge policy returned an empty component")
)

// ID identifies an artifact as "group:name:version".
type ID string

// NewID joins the coordinates of an artifact.
func NewID(group, name, version string) ID {
	return ID(group + ":" + name + ":" + version)
}

// ParseID splits id into its coordinates.
func ParseID(id ID) (group, name, version string, err error) {
	parts := strings.Split(string(id), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return parts[0], parts[1], parts[2], nil
}

// Key returns the versionless "group:name" part of id.
func (id ID) Key() string {
	s := string(id)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// Version returns the version part of id.
func (id ID) Version() string {
	s := string(id)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// Edge is a dependency from one artifact to another.
type Edge struct {
	Target   ID
	Optional bool
}

// Artifact is a node of the dependency graph.
type Artifact struct {
	ID           ID
	Locations    []location.Location
	Dependencies []Edge
	// EntryPoints name start/stop hooks declared by the artifact's metadata.
	EntryPoints []string
}

// Graph is a rooted artifact graph. Artifacts unreachable from Root are
// ignored by every consumer.
type Graph struct {
	Root      ID
	Artifacts map[ID]*Artifact
}

// New returns an empty graph rooted at root.
func New(root ID) *Graph {
	return &Graph{Root: root, Artifacts: map[ID]*Artifact{}}
}

// Add inserts an artifact. Declaring the same id twice is an error.
func (g *Graph) Add(a *Artifact) error {
	if a == nil || a.ID == "" {
		return ErrInvalidID
	}
	if _, ok := g.Artifacts[a.ID]; ok {
		return fmt.Errorf("%s: %w", a.ID, ErrDuplicate)
	}
	g.Artifacts[a.ID] = a
	return nil
}

// MustAdd is Add for tests and static graphs.
func (g *Graph) MustAdd(id ID, locs []location.Location, deps ...ID) *Graph {
	a := &Artifact{ID: id, Locations: locs}
	for _, d := range deps {
		a.Dependencies = append(a.Dependencies, Edge{Target: d})
	}
	if err := g.Add(a); err != nil {
		panic(err)
	}
	return g
}

// Get returns the artifact for id.
func (g *Graph) Get(id ID) (*Artifact, bool) {
	a, ok := g.Artifacts[id]
	return a, ok
}

// Validate checks the root exists and every required edge resolves.
func (g *Graph) Validate() error {
	if g == nil || g.Root == "" {
		return ErrMissingRoot
	}
	if _, ok := g.Artifacts[g.Root]; !ok {
		return fmt.Errorf("%s: %w", g.Root, ErrMissingRoot)
	}
	var errs []error
	for _, id := range g.Reachable() {
		for _, e := range g.Artifacts[id].Dependencies {
			if _, ok := g.Artifacts[e.Target]; !ok && !e.Optional {
				errs = append(errs, fmt.Errorf("%s -> %s: %w", id, e.Target, ErrUnknownTarget))
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Successors returns the resolvable dependency targets of id in declaration
// order. Optional edges to absent artifacts are skipped.
func (g *Graph) Successors(id ID) []ID {
	a, ok := g.Artifacts[id]
	if !ok {
		return nil
	}
	out := make([]ID, 0, len(a.Dependencies))
	for _, e := range a.Dependencies {
		if _, ok := g.Artifacts[e.Target]; ok {
			out = append(out, e.Target)
		}
	}
	return out
}

// Reachable returns every artifact reachable from the root in depth-first
// discovery order.
func (g *Graph) Reachable() []ID {
	if _, ok := g.Artifacts[g.Root]; !ok {
		return nil
	}
	seen := map[ID]bool{}
	var order []ID
	var visit func(ID)
	visit = func(id ID) {
		if seen[id] {
			return
		}
		seen[id] = true
		order = append(order, id)
		for _, next := range g.Successors(id) {
			visit(next)
		}
	}
	visit(g.Root)
	return order
}

// Clone returns a copy of g whose artifacts and edge slices may be modified
// independently. Locations are shared.
func (g *Graph) Clone() *Graph {
	c := New(g.Root)
	for id, a := range g.Artifacts {
		c.Artifacts[id] = &Artifact{
			ID:           a.ID,
			Locations:    append([]location.Location(nil), a.Locations...),
			Dependencies: append([]Edge(nil), a.Dependencies...),
			EntryPoints:  append([]string(nil), a.EntryPoints...),
		}
	}
	return c
}

// IDs returns every artifact id in sorted order.
func (g *Graph) IDs() []ID {
	ids := make([]ID, 0, len(g.Artifacts))
	for id := range g.Artifacts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
