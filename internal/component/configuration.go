// Package component defines the immutable, content addressed description of
// one resolution unit and its dependencies.
package component

import (
	"errors"
	"fmt"

	"github.com/anvil-platform/enclave/internal/location"
	"github.com/anvil-platform/enclave/internal/router"
)

// Local marks a delegation entry that searches the node's own locations. In
// a PathStep it means "the dependency itself".
const Local = -1

// Scope controls which attachments may share a realized configuration.
type Scope string

const (
	// ScopePlatform configurations are shared by every attachment.
	ScopePlatform Scope = "platform"
	// ScopeAttachment configurations are shared only inside one attach call.
	ScopeAttachment Scope = "attachment"
	// ScopeInstallation configurations are shared by attachments of one installation.
	ScopeInstallation Scope = "installation"
)

// ParseScope maps a user supplied scope, defaulting to ScopePlatform.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopePlatform:
		return ScopePlatform, nil
	case ScopeAttachment, ScopeInstallation:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

var ErrInvalid = errors.New("invalid configuration")

// PathStep is one hop of a delegation path: go to Dependencies[Dependency],
// then continue with that dependency's Paths[Next], or stop when Next is Local.
type PathStep struct {
	Dependency int `json:"dependency"`
	Next       int `json:"next"`
}

// Configuration describes one resolution unit. It is immutable once built;
// the compiler never produces two configurations with the same Key.
type Configuration struct {
	Key Key
	// Name is a human readable label, the member artifacts joined.
	Name string
	// Members are the artifact ids merged into this configuration.
	Members []string

	Scope        Scope
	Installation string

	Locations    []location.Location
	Dependencies []*Configuration

	// Paths is the shared step table referenced by PathIDs and by the Paths
	// of configurations depending on this one.
	Paths []PathStep
	// PathIDs lists the distinct delegation sequences. Each entry holds
	// indexes into Paths, or Local for the node's own locations.
	PathIDs [][]int

	// Resources routes a resource name to an index of PathIDs. Classes is
	// derived from it.
	Resources router.Router
	Classes   router.Router

	// EntryPoints are the identifiers of start/stop hooks, invoked in order.
	EntryPoints []string
}

// LocalOnly returns a configuration with no dependencies that searches only
// its own locations.
func LocalOnly(key Key, name string, scope Scope, locs []location.Location, entryPoints ...string) *Configuration {
	return &Configuration{
		Key:         key,
		Name:        name,
		Scope:       scope,
		Locations:   locs,
		PathIDs:     [][]int{{Local}},
		Resources:   router.Fixed(0),
		Classes:     router.Fixed(0),
		EntryPoints: entryPoints,
	}
}

func (c *Configuration) String() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Key.Short()
}

// Validate checks the path tables are consistent with the dependency shape.
// Configurations produced by the compiler always validate; this guards ones
// assembled by hand.
func (c *Configuration) Validate() error {
	return c.validate(map[*Configuration]bool{})
}

func (c *Configuration) validate(seen map[*Configuration]bool) error {
	if seen[c] {
		return nil
	}
	seen[c] = true
	if c.Key == "" {
		return fmt.Errorf("%s: empty key: %w", c, ErrInvalid)
	}
	if c.Resources == nil {
		return fmt.Errorf("%s: no resource router: %w", c, ErrInvalid)
	}
	for i, step := range c.Paths {
		if step.Dependency < 0 || step.Dependency >= len(c.Dependencies) {
			return fmt.Errorf("%s: path %d targets dependency %d of %d: %w", c, i, step.Dependency, len(c.Dependencies), ErrInvalid)
		}
		dep := c.Dependencies[step.Dependency]
		if step.Next != Local && (step.Next < 0 || step.Next >= len(dep.Paths)) {
			return fmt.Errorf("%s: path %d continues at %d of %d in %s: %w", c, i, step.Next, len(dep.Paths), dep, ErrInvalid)
		}
	}
	for i, ids := range c.PathIDs {
		for _, p := range ids {
			if p != Local && (p < 0 || p >= len(c.Paths)) {
				return fmt.Errorf("%s: path list %d references path %d of %d: %w", c, i, p, len(c.Paths), ErrInvalid)
			}
		}
	}
	for _, dep := range c.Dependencies {
		if dep == nil {
			return fmt.Errorf("%s: nil dependency: %w", c, ErrInvalid)
		}
		if err := dep.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// Follow returns the configuration reached by starting at path in c.Paths.
// Local returns c itself.
func (c *Configuration) Follow(path int) *Configuration {
	cur := c
	for path != Local {
		step := cur.Paths[path]
		cur = cur.Dependencies[step.Dependency]
		path = step.Next
	}
	return cur
}

// Walk visits c and every configuration it depends on once, dependencies
// first.
func (c *Configuration) Walk(fn func(*Configuration)) {
	seen := map[*Configuration]bool{}
	var visit func(*Configuration)
	visit = func(cfg *Configuration) {
		if seen[cfg] {
			return
		}
		seen[cfg] = true
		for _, d := range cfg.Dependencies {
			visit(d)
		}
		fn(cfg)
	}
	visit(c)
}
