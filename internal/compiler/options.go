package compiler

import (
	"fmt"

	"github.com/anvil-platform/enclave/internal/component"
)

// ResolveMode selects how the artifact graph is turned into configurations.
type ResolveMode string

const (
	// FixedDependencies keeps one configuration per merged component with
	// explicit delegation paths.
	FixedDependencies ResolveMode = "fixed"
	// Classpath flattens every reachable artifact into a single configuration
	// with no dependencies.
	Classpath ResolveMode = "classpath"
)

// ParseMode maps a user supplied mode, defaulting to FixedDependencies.
func ParseMode(s string) (ResolveMode, error) {
	switch ResolveMode(s) {
	case "", FixedDependencies:
		return FixedDependencies, nil
	case Classpath:
		return Classpath, nil
	}
	return "", fmt.Errorf("unknown resolve mode %q", s)
}

type compileOptions struct {
	scope        component.Scope
	installation string
	mode         ResolveMode
}

// CompileOption tunes a single Compile call.
type CompileOption func(*compileOptions)

// WithScope sets the sharing scope of every produced configuration.
func WithScope(s component.Scope) CompileOption {
	return func(o *compileOptions) { o.scope = s }
}

// WithInstallation names the installation for installation scoped sharing.
func WithInstallation(name string) CompileOption {
	return func(o *compileOptions) { o.installation = name }
}

// WithMode selects the resolve mode.
func WithMode(m ResolveMode) CompileOption {
	return func(o *compileOptions) { o.mode = m }
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithConcurrency bounds how many artifacts are enumerated at once.
func WithConcurrency(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}
