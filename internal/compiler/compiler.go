// Package compiler turns a possibly cyclic artifact graph into a
// deduplicated DAG of component configurations.
package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/enclave/internal/component"
	"github.com/anvil-platform/enclave/internal/graph"
	"github.com/anvil-platform/enclave/internal/router"
)

const defaultConcurrency = 8

// compiled is a cached configuration plus the exact routing table it was
// built with, which dependents merge into their own.
type compiled struct {
	cfg   *component.Configuration
	names map[string]int
}

// Compiler compiles artifact graphs. Configurations are cached by key for
// the life of the Compiler, so compiling the same graph twice returns the
// same pointers. A Compiler is safe for concurrent use.
type Compiler struct {
	concurrency int

	mu    sync.Mutex
	cache map[component.Key]*compiled
}

func New(opts ...Option) *Compiler {
	c := &Compiler{
		concurrency: defaultConcurrency,
		cache:       map[component.Key]*compiled{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len reports the number of cached configurations.
func (c *Compiler) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Cached returns the configuration compiled under key, if any.
func (c *Compiler) Cached(key component.Key) (*component.Configuration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hit, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	return hit.cfg, true
}

// Compile returns the configuration of g's root. A nil policy collapses
// cycles.
func (c *Compiler) Compile(ctx context.Context, g *graph.Graph, policy graph.MergePolicy, opts ...CompileOption) (*component.Configuration, error) {
	o := compileOptions{scope: component.ScopePlatform, mode: FixedDependencies}
	for _, opt := range opts {
		opt(&o)
	}
	if g == nil {
		return nil, fail("", graph.ErrMissingRoot)
	}
	if o.scope == component.ScopeInstallation && o.installation == "" {
		return nil, fail(g.Root, fmt.Errorf("installation scope requires an installation name"))
	}
	if err := g.Validate(); err != nil {
		return nil, fail(g.Root, err)
	}
	if policy == nil {
		policy = graph.CollapseCycles
	}

	logger := log.FromContext(ctx).WithValues("root", g.Root, "mode", o.mode, "scope", o.scope)

	resources, err := c.enumerate(ctx, g)
	if err != nil {
		return nil, fail(g.Root, err)
	}

	if o.mode == Classpath {
		cfg, err := c.classpath(g, resources, o)
		if err != nil {
			return nil, fail(g.Root, err)
		}
		logger.V(1).Info("compiled classpath configuration", "key", cfg.Key.Short(), "artifacts", len(cfg.Members))
		return cfg, nil
	}

	components, err := policy.Components(g)
	if err != nil {
		return nil, fail(g.Root, err)
	}
	if err := graph.CheckComponents(g, components); err != nil {
		return nil, fail(g.Root, err)
	}

	groupOf := make(map[graph.ID]int, len(g.Artifacts))
	for i, members := range components {
		for _, id := range members {
			groupOf[id] = i
		}
	}

	built := make([]*compiled, len(components))
	reused := 0
	for i, members := range components {
		var deps []*compiled
		seen := map[int]bool{}
		for _, id := range members {
			for _, next := range g.Successors(id) {
				j := groupOf[next]
				if j == i || seen[j] {
					continue
				}
				seen[j] = true
				deps = append(deps, built[j])
			}
		}

		material := component.KeyMaterial{
			Scope:        o.scope,
			Installation: o.installation,
			Members:      idStrings(members),
			Dependencies: make([]component.Key, len(deps)),
		}
		for k, d := range deps {
			material.Dependencies[k] = d.cfg.Key
		}
		key, err := component.ComputeKey(material)
		if err != nil {
			return nil, fail(g.Root, err)
		}

		if hit, ok := c.lookup(key); ok {
			built[i] = hit
			reused++
			continue
		}
		fresh := buildConfiguration(key, g, members, deps, resources, o)
		built[i] = c.store(fresh)
	}

	root := built[len(built)-1].cfg
	logger.V(1).Info("compiled configuration", "key", root.Key.Short(), "components", len(components), "reused", reused)
	return root, nil
}

func (c *Compiler) lookup(key component.Key) (*compiled, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hit, ok := c.cache[key]
	return hit, ok
}

// store caches fresh unless a concurrent Compile got there first, in which
// case the earlier configuration wins.
func (c *Compiler) store(fresh *compiled) *compiled {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache[fresh.cfg.Key]; ok {
		return existing
	}
	c.cache[fresh.cfg.Key] = fresh
	return fresh
}

// enumerate lists the local resources of every reachable artifact. An
// artifact whose locations cannot be listed is logged and contributes no
// resources; only context cancellation fails the compilation.
func (c *Compiler) enumerate(ctx context.Context, g *graph.Graph) (map[graph.ID][]string, error) {
	logger := log.FromContext(ctx)
	ids := g.Reachable()
	results := make([][]string, len(ids))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i, id := range ids {
		a := g.Artifacts[id]
		eg.Go(func() error {
			names, err := listArtifact(egctx, a)
			if err != nil {
				if ctxErr := egctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Error(err, "unable to enumerate artifact resources, treating it as empty", "artifact", id)
				return nil
			}
			results[i] = names
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[graph.ID][]string, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out, nil
}

func listArtifact(ctx context.Context, a *graph.Artifact) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, loc := range a.Locations {
		listed, err := loc.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", loc.Name(), err)
		}
		for _, n := range listed {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names, nil
}

func (c *Compiler) classpath(g *graph.Graph, resources map[graph.ID][]string, o compileOptions) (*component.Configuration, error) {
	members := g.Reachable()
	key, err := component.ComputeKey(component.KeyMaterial{
		Scope:        o.scope,
		Installation: o.installation,
		Members:      idStrings(members),
		Mode:         string(Classpath),
	})
	if err != nil {
		return nil, err
	}
	if hit, ok := c.lookup(key); ok {
		return hit.cfg, nil
	}

	names := map[string]int{}
	for _, id := range members {
		for _, n := range resources[id] {
			names[n] = 0
		}
	}
	cfg := &component.Configuration{
		Key:          key,
		Name:         string(g.Root) + " (classpath)",
		Members:      idStrings(members),
		Scope:        o.scope,
		Installation: installationOf(o),
		PathIDs:      [][]int{{component.Local}},
		Resources:    router.Fixed(0),
		Classes:      router.Fixed(0),
	}
	for _, id := range members {
		a := g.Artifacts[id]
		cfg.Locations = append(cfg.Locations, a.Locations...)
		cfg.EntryPoints = append(cfg.EntryPoints, a.EntryPoints...)
	}
	return c.store(&compiled{cfg: cfg, names: names}).cfg, nil
}

func buildConfiguration(key component.Key, g *graph.Graph, members []graph.ID, deps []*compiled, resources map[graph.ID][]string, o compileOptions) *compiled {
	t := newPathTable()
	for _, id := range members {
		t.addLocal(resources[id])
	}
	// Later dependencies are merged first so that, for a name provided by
	// several of them, the last declared one is searched first after the
	// local locations.
	for pos := len(deps) - 1; pos >= 0; pos-- {
		t.mergeDependency(pos, deps[pos])
	}
	paths, pathIDs, names := t.compact()

	cfg := &component.Configuration{
		Key:          key,
		Name:         strings.Join(idStrings(members), "+"),
		Members:      idStrings(members),
		Scope:        o.scope,
		Installation: installationOf(o),
		Paths:        paths,
		PathIDs:      pathIDs,
	}
	for _, d := range deps {
		cfg.Dependencies = append(cfg.Dependencies, d.cfg)
	}
	for _, id := range members {
		a := g.Artifacts[id]
		cfg.Locations = append(cfg.Locations, a.Locations...)
		cfg.EntryPoints = append(cfg.EntryPoints, a.EntryPoints...)
	}
	table := router.NewTable(names)
	cfg.Resources = table
	cfg.Classes = router.Classes(table)
	return &compiled{cfg: cfg, names: names}
}

func installationOf(o compileOptions) string {
	if o.scope == component.ScopeInstallation {
		return o.installation
	}
	return ""
}

func idStrings(ids []graph.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func sortedNames(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
