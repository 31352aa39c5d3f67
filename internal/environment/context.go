package environment

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

type stackKey struct{}

// WithStack returns a context carrying s.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// StackFrom returns the stack carried by ctx.
func StackFrom(ctx context.Context) (*Stack, bool) {
	s, ok := ctx.Value(stackKey{}).(*Stack)
	return s, ok
}

var defaultSystem func() *System

// Assigned in init to break the package initialization cycle
// defaultSystem -> NewSystem -> httpHandler -> ProxyForRequest -> Default.
func init() { defaultSystem = sync.OnceValue(func() *System { return NewSystem() }) }

// Default is the System used by contexts that carry no stack. Its root frame
// reflects the real process state.
func Default() *System { return defaultSystem() }

// Current returns the frame current in ctx, or the default root.
func Current(ctx context.Context) *Frame {
	if s, ok := StackFrom(ctx); ok {
		return s.Current()
	}
	return Default().Root()
}

// Enter pushes a fresh frame labelled name for s onto the stack in ctx. If
// ctx carries no stack of s, a new one is started from s's root. The
// returned context carries the stack; leave pops the frame.
func (s *System) Enter(ctx context.Context, name string) (context.Context, *Frame, func()) {
	stack, ok := StackFrom(ctx)
	if !ok || stack.system != s {
		stack = s.NewStack()
		ctx = WithStack(ctx, stack)
	}
	f := stack.PushNamed(name)
	return ctx, f, func() { _, _ = stack.Pop() }
}

// Go runs fn on a new goroutine with a fork of ctx's stack, so frames the
// goroutine pushes stay invisible to the caller.
func Go(ctx context.Context, fn func(ctx context.Context)) {
	if s, ok := StackFrom(ctx); ok {
		ctx = WithStack(ctx, s.Fork())
	}
	go fn(ctx)
}

func Stdout(ctx context.Context) io.Writer { return Current(ctx).Stdout() }

func Stderr(ctx context.Context) io.Writer { return Current(ctx).Stderr() }

func Stdin(ctx context.Context) io.Reader { return Current(ctx).Stdin() }

// Printf writes to the current frame's standard output.
func Printf(ctx context.Context, format string, args ...any) (int, error) {
	return fmt.Fprintf(Stdout(ctx), format, args...)
}

func LookupEnv(ctx context.Context, key string) (string, bool) {
	return Current(ctx).LookupEnv(key)
}

func Getenv(ctx context.Context, key string) string {
	return Current(ctx).Getenv(key)
}

// Setenv sets a property in the current frame if its policy allows
// property:<key>:write.
func Setenv(ctx context.Context, key, value string) error {
	f := Current(ctx)
	if err := check(f, Permission{Kind: "property", Name: key, Action: "write"}); err != nil {
		return err
	}
	f.Setenv(key, value)
	return nil
}

// Unsetenv hides a property in the current frame if its policy allows
// property:<key>:write.
func Unsetenv(ctx context.Context, key string) error {
	f := Current(ctx)
	if err := check(f, Permission{Kind: "property", Name: key, Action: "write"}); err != nil {
		return err
	}
	f.Unsetenv(key)
	return nil
}

func Environ(ctx context.Context) []string { return Current(ctx).Environ() }

// ProxyForRequest returns an http.Transport.Proxy bound to the frame current
// in ctx at call time.
func ProxyForRequest(ctx context.Context) func(*http.Request) (*url.URL, error) {
	return Current(ctx).TransportProxy()
}

// Drivers lists the driver names visible in ctx.
func Drivers(ctx context.Context) []string {
	entries := Current(ctx).Drivers()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// RegisterDriver registers d in the current frame if its policy allows
// driver:<name>:register.
func RegisterDriver(ctx context.Context, name string, d driver.Driver) error {
	f := Current(ctx)
	if err := check(f, Permission{Kind: "driver", Name: name, Action: "register"}); err != nil {
		return err
	}
	return f.RegisterDriver(name, d)
}

// OpenDB opens a database with a driver visible in ctx.
func OpenDB(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	return Current(ctx).OpenDB(driverName, dsn)
}

// OpenURL opens raw with the current frame's handler for its scheme, if the
// policy allows url:<scheme>:open.
func OpenURL(ctx context.Context, raw string) (io.ReadCloser, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	f := Current(ctx)
	if err := check(f, Permission{Kind: "url", Name: u.Scheme, Action: "open"}); err != nil {
		return nil, err
	}
	h, ok := f.URLHandler(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("%q: %w", u.Scheme, ErrUnknownScheme)
	}
	return h.Open(ctx, u)
}

// Check returns ErrPermissionDenied unless the current frame implies p.
func Check(ctx context.Context, p Permission) error {
	return check(Current(ctx), p)
}

func check(f *Frame, p Permission) error {
	if f.Implies(p) {
		return nil
	}
	return fmt.Errorf("%s: %w", p, ErrPermissionDenied)
}
