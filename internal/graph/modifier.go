package graph

import (
	"fmt"
)

// AddRule appends dependencies to every artifact whose "group:name" key is
// Parent.
type AddRule struct {
	Parent       string
	Dependencies []ID
}

// ReplaceRule swaps every dependency on an artifact keyed Target for With,
// except in parents whose key is listed in Except.
type ReplaceRule struct {
	Target string
	With   []ID
	Except []string
}

// Modifier rewrites dependency edges before compilation. It is how a host
// patches graphs it does not own, for instance to inject an API artifact that
// was declared as provided.
type Modifier struct {
	Add     []AddRule
	Replace []ReplaceRule
}

// Apply returns a modified copy of g. Every added or replacement target must
// already be present in g.
func (m Modifier) Apply(g *Graph) (*Graph, error) {
	out := g.Clone()

	for _, rule := range m.Add {
		for _, id := range rule.Dependencies {
			if _, ok := out.Artifacts[id]; !ok {
				return nil, fmt.Errorf("add rule for %s -> %s: %w", rule.Parent, id, ErrUnknownTarget)
			}
		}
	}
	for _, rule := range m.Replace {
		for _, id := range rule.With {
			if _, ok := out.Artifacts[id]; !ok {
				return nil, fmt.Errorf("replace rule for %s -> %s: %w", rule.Target, id, ErrUnknownTarget)
			}
		}
	}

	for _, id := range out.IDs() {
		a := out.Artifacts[id]
		parent := id.Key()

		var deps []Edge
		for _, e := range a.Dependencies {
			if rule, ok := m.replacement(e.Target.Key(), parent); ok {
				for _, with := range rule.With {
					deps = appendEdge(deps, Edge{Target: with, Optional: e.Optional})
				}
				continue
			}
			deps = appendEdge(deps, e)
		}
		for _, rule := range m.Add {
			if rule.Parent != parent {
				continue
			}
			for _, dep := range rule.Dependencies {
				if dep == id {
					continue
				}
				deps = appendEdge(deps, Edge{Target: dep})
			}
		}
		a.Dependencies = deps
	}
	return out, nil
}

func (m Modifier) replacement(target, parent string) (ReplaceRule, bool) {
	for _, rule := range m.Replace {
		if rule.Target != target {
			continue
		}
		excepted := false
		for _, ex := range rule.Except {
			if ex == parent {
				excepted = true
				break
			}
		}
		if !excepted {
			return rule, true
		}
	}
	return ReplaceRule{}, false
}

// appendEdge keeps the first edge to a target; a required edge upgrades an
// optional one.
func appendEdge(deps []Edge, e Edge) []Edge {
	for i := range deps {
		if deps[i].Target == e.Target {
			if !e.Optional {
				deps[i].Optional = false
			}
			return deps
		}
	}
	return append(deps, e)
}
