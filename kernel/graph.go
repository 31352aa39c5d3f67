package kernel

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	enclavev1alpha1 "github.com/anvil-platform/enclave/api/v1alpha1"
	"github.com/anvil-platform/enclave/internal/graph"
	"github.com/anvil-platform/enclave/internal/location"
)

// BuildGraph converts ag into a graph rooted at root, opening every
// location reference and applying the graph's modifiers and version
// mediation.
func BuildGraph(ag *enclavev1alpha1.ArtifactGraph, root string) (*graph.Graph, error) {
	g := graph.New(graph.ID(root))
	var errs []error
	for _, spec := range ag.Spec.Artifacts {
		a := &graph.Artifact{
			ID:          graph.ID(spec.ID),
			EntryPoints: append([]string(nil), spec.EntryPoints...),
		}
		for _, ref := range spec.Locations {
			l, err := location.Open(ref)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", spec.ID, err))
				continue
			}
			a.Locations = append(a.Locations, l)
		}
		for _, d := range spec.Dependencies {
			a.Dependencies = append(a.Dependencies, graph.Edge{Target: graph.ID(d.ID), Optional: d.Optional})
		}
		if err := g.Add(a); err != nil {
			errs = append(errs, err)
		}
	}
	if err := utilerrors.NewAggregate(errs); err != nil {
		return nil, err
	}

	if mods := ag.Spec.Modifiers; mods != nil {
		var m graph.Modifier
		for _, add := range mods.Add {
			m.Add = append(m.Add, graph.AddRule{Parent: add.Parent, Dependencies: ids(add.Dependencies)})
		}
		for _, rep := range mods.Replace {
			m.Replace = append(m.Replace, graph.ReplaceRule{Target: rep.Target, With: ids(rep.With), Except: rep.Except})
		}
		modified, err := m.Apply(g)
		if err != nil {
			return nil, err
		}
		g = modified
	}
	if ag.Spec.Mediate {
		mediated, err := graph.MediateVersions(g, ag.Spec.Pins)
		if err != nil {
			return nil, err
		}
		g = mediated
	}
	return g, nil
}

func ids(in []string) []graph.ID {
	out := make([]graph.ID, len(in))
	for i, s := range in {
		out[i] = graph.ID(s)
	}
	return out
}
