package environment

import (
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Frame is one layer of virtualized process state. Everything a frame
// inherits is captured when it is forked from its parent; afterwards reads
// consult only the frame itself, except for driver reads of an untouched
// frame, which go to the nearest ancestor that registered drivers.
type Frame struct {
	id     string
	name   string
	parent *Frame
	system *System

	mu       sync.Mutex
	out      io.Writer
	err      io.Writer
	in       io.Reader
	props    *properties
	proxy    ProxyFunc
	policy   *chain
	handlers map[string]URLHandler
	drivers  drivers
}

// fork creates a child of f.
func (f *Frame) fork(name string) *Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Frame{
		id:       uuid.NewString(),
		name:     name,
		parent:   f,
		system:   f.system,
		out:      f.out,
		err:      f.err,
		in:       f.in,
		props:    newProperties(f.props.flatten()),
		proxy:    f.proxy,
		policy:   f.policy.inherit(),
		handlers: f.handlers,
	}
}

// ID is unique per frame.
func (f *Frame) ID() string { return f.id }

// Name is the label given when the frame was created.
func (f *Frame) Name() string { return f.name }

// Parent returns the frame this one was forked from, nil for a root.
func (f *Frame) Parent() *Frame { return f.parent }

func (f *Frame) System() *System { return f.system }

func (f *Frame) String() string {
	if f.name != "" {
		return f.name + "/" + f.id
	}
	return f.id
}

func (f *Frame) Stdout() io.Writer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out
}

func (f *Frame) Stderr() io.Writer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Frame) Stdin() io.Reader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.in
}

// SetStdout redirects standard output for this frame and frames forked from
// it afterwards.
func (f *Frame) SetStdout(w io.Writer) {
	f.mu.Lock()
	f.out = w
	f.mu.Unlock()
}

func (f *Frame) SetStderr(w io.Writer) {
	f.mu.Lock()
	f.err = w
	f.mu.Unlock()
}

func (f *Frame) SetStdin(r io.Reader) {
	f.mu.Lock()
	f.in = r
	f.mu.Unlock()
}

// LookupEnv returns a property and whether it is set.
func (f *Frame) LookupEnv(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props.lookup(key)
}

// Getenv returns a property, or "" when unset.
func (f *Frame) Getenv(key string) string {
	v, _ := f.LookupEnv(key)
	return v
}

// Setenv sets a property in this frame only.
func (f *Frame) Setenv(key, value string) {
	f.mu.Lock()
	f.props.set(key, value)
	f.mu.Unlock()
}

// Unsetenv hides a property in this frame only, even if the parent had it.
func (f *Frame) Unsetenv(key string) {
	f.mu.Lock()
	f.props.unset(key)
	f.mu.Unlock()
}

// Environ returns a sorted "key=value" listing of the frame's properties.
func (f *Frame) Environ() []string {
	f.mu.Lock()
	flat := f.props.flatten()
	out := make([]string, 0, len(flat))
	for k, v := range flat {
		out = append(out, k+"="+v)
	}
	f.mu.Unlock()
	sort.Strings(out)
	return out
}

// Implies evaluates the frame's effective policy.
func (f *Frame) Implies(p Permission) bool {
	f.mu.Lock()
	c := f.policy
	f.mu.Unlock()
	return c.Implies(p)
}

// Deny refuses every permission p implies, in this frame and in frames
// forked from it afterwards. No allow can override a deny.
func (f *Frame) Deny(p Policy) {
	f.mu.Lock()
	f.policy = f.policy.withDeny(p)
	f.mu.Unlock()
}

// Allow sets the frame's own allow policy, consulted after every deny and
// before the inherited decision.
func (f *Frame) Allow(p Policy) {
	f.mu.Lock()
	f.policy = f.policy.withAllow(p)
	f.mu.Unlock()
}
