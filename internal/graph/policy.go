package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycle is matched by every *CycleError.
var ErrCycle = errors.New("dependency cycle")

// CycleError reports a cycle found in the graph. Path starts and ends with
// the same artifact.
type CycleError struct {
	Path []ID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// MergePolicy removes cycles from a graph. Components returns groups of
// artifacts that will each become one configuration, ordered so that every
// group comes after the groups it depends on; the root's group is last.
// Within a group, artifacts are listed in the order their locations are
// searched.
type MergePolicy interface {
	Components(g *Graph) ([][]ID, error)
}

// MergePolicyFunc adapts a function to MergePolicy.
type MergePolicyFunc func(g *Graph) ([][]ID, error)

func (f MergePolicyFunc) Components(g *Graph) ([][]ID, error) { return f(g) }

// CollapseCycles merges every strongly connected component into a single
// group, its members sorted by ID. Acyclic graphs yield one group per
// artifact.
var CollapseCycles MergePolicy = MergePolicyFunc(collapseCycles)

// RejectCycles fails with a *CycleError on the first cycle found.
var RejectCycles MergePolicy = MergePolicyFunc(rejectCycles)

// collapseCycles is Tarjan's algorithm seeded at the root. Tarjan emits
// components in reverse topological order, which is the order we want.
func collapseCycles(g *Graph) ([][]ID, error) {
	if _, ok := g.Artifacts[g.Root]; !ok {
		return nil, fmt.Errorf("%s: %w", g.Root, ErrMissingRoot)
	}

	var (
		index   = map[ID]int{}
		lowlink = map[ID]int{}
		onStack = map[ID]bool{}
		stack   []ID
		next    int
		out     [][]ID
	)

	var strongConnect func(ID)
	strongConnect = func(v ID) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Successors(v) {
			if _, visited := index[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], index[w])
			}
		}

		if lowlink[v] != index[v] {
			return
		}
		var component []ID
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		// Members are sorted so a cycle gets the same key however it is
		// reached.
		sort.Slice(component, func(i, j int) bool { return component[i] < component[j] })
		out = append(out, component)
	}

	strongConnect(g.Root)
	return out, nil
}

func rejectCycles(g *Graph) ([][]ID, error) {
	if _, ok := g.Artifacts[g.Root]; !ok {
		return nil, fmt.Errorf("%s: %w", g.Root, ErrMissingRoot)
	}

	const (
		white = iota
		grey
		black
	)
	color := map[ID]int{}
	var path []ID
	var out [][]ID

	var visit func(ID) error
	visit = func(v ID) error {
		color[v] = grey
		path = append(path, v)
		for _, w := range g.Successors(v) {
			switch color[w] {
			case grey:
				start := 0
				for i, id := range path {
					if id == w {
						start = i
						break
					}
				}
				cycle := append(append([]ID(nil), path[start:]...), w)
				return &CycleError{Path: cycle}
			case white:
				if err := visit(w); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[v] = black
		out = append(out, []ID{v})
		return nil
	}

	if err := visit(g.Root); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckComponents verifies a policy result covers every reachable artifact
// exactly once, with no empty group and no edge pointing to a later group.
func CheckComponents(g *Graph, components [][]ID) error {
	group := map[ID]int{}
	for i, c := range components {
		if len(c) == 0 {
			return fmt.Errorf("component %d: %w", i, ErrEmptyComponent)
		}
		for _, id := range c {
			if _, dup := group[id]; dup {
				return fmt.Errorf("%s in more than one component: %w", id, ErrDuplicate)
			}
			if _, ok := g.Artifacts[id]; !ok {
				return fmt.Errorf("%s: %w", id, ErrUnknownTarget)
			}
			group[id] = i
		}
	}
	for _, id := range g.Reachable() {
		gi, ok := group[id]
		if !ok {
			return fmt.Errorf("%s not covered by any component: %w", id, ErrUnknownTarget)
		}
		for _, next := range g.Successors(id) {
			if gn := group[next]; gn > gi {
				return &CycleError{Path: []ID{id, next, id}}
			}
		}
	}
	if root, ok := group[g.Root]; !ok || root != len(components)-1 {
		return fmt.Errorf("root %s must be in the last component: %w", g.Root, ErrMissingRoot)
	}
	return nil
}
