package graph

import (
	"fmt"

	"github.com/anvil-platform/enclave/internal/semver"
)

// MediateVersions collapses every "group:name" key to a single version: the
// root's version for the root's own key, otherwise the highest version
// satisfying the key's pin (any version when unpinned). Edges are redirected
// to the winner and losing artifacts are dropped.
//
// Keys whose versions cannot all be parsed are left untouched. A pin no
// present version satisfies is an error, even when only one version is
// present.
func MediateVersions(g *Graph, pins map[string]string) (*Graph, error) {
	byKey := map[string][]ID{}
	for _, id := range g.IDs() {
		byKey[id.Key()] = append(byKey[id.Key()], id)
	}

	winner := map[ID]ID{}
	for key, ids := range byKey {
		if key == g.Root.Key() {
			for _, id := range ids {
				winner[id] = g.Root
			}
			continue
		}
		versions := make([]semver.Version, 0, len(ids))
		for _, id := range ids {
			v, err := semver.ParseVersion(id.Version())
			if err != nil {
				versions = nil
				break
			}
			versions = append(versions, v)
		}
		if versions == nil {
			continue
		}
		best := semver.Max(versions)
		if raw, ok := pins[key]; ok {
			c, err := semver.ParseConstraint(raw)
			if err != nil {
				return nil, fmt.Errorf("pin for %s: %w", key, err)
			}
			idx, ok := semver.MaxSatisfying(c, versions)
			if !ok {
				return nil, fmt.Errorf("pin %s %q matches none of %v: %w", key, raw, ids, ErrUnknownTarget)
			}
			best = idx
		}
		for _, id := range ids {
			winner[id] = ids[best]
		}
	}

	out := New(g.Root)
	for _, id := range g.IDs() {
		if w, ok := winner[id]; ok && w != id {
			continue
		}
		a := g.Artifacts[id]
		c := &Artifact{ID: a.ID, Locations: a.Locations, EntryPoints: a.EntryPoints}
		for _, e := range a.Dependencies {
			if w, ok := winner[e.Target]; ok {
				e.Target = w
			}
			if e.Target == id {
				continue
			}
			c.Dependencies = appendEdge(c.Dependencies, e)
		}
		out.Artifacts[id] = c
	}
	return out, nil
}
