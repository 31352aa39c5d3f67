// Package environment virtualizes process wide singletons (standard streams,
// environment properties, proxy selection, database drivers, URL handlers
// and security policy) so that isolated components sharing one process each
// see their own view.
//
// State lives in Frames. Each logical execution context carries a Stack of
// frames through its context.Context; the top frame is the current view.
// Code reaches the current view through the facade functions of this package
// instead of the process globals.
package environment

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpproxy"
)

// Listener observes frames being pushed and popped on any stack of a System.
type Listener interface {
	OnPush(f *Frame)
	OnPop(f *Frame)
}

// ListenerFuncs adapts optional callbacks to Listener.
type ListenerFuncs struct {
	Push func(*Frame)
	Pop  func(*Frame)
}

func (l ListenerFuncs) OnPush(f *Frame) {
	if l.Push != nil {
		l.Push(f)
	}
}

func (l ListenerFuncs) OnPop(f *Frame) {
	if l.Pop != nil {
		l.Pop(f)
	}
}

type systemOptions struct {
	logger     logr.Logger
	out        io.Writer
	err        io.Writer
	in         io.Reader
	properties map[string]string
	proxy      ProxyFunc
	policy     Policy
}

// Option configures NewSystem.
type Option func(*systemOptions)

func WithLogger(l logr.Logger) Option {
	return func(o *systemOptions) { o.logger = l }
}

// WithStreams replaces the process streams captured by the root frame.
func WithStreams(out, err io.Writer, in io.Reader) Option {
	return func(o *systemOptions) {
		o.out, o.err, o.in = out, err, in
	}
}

// WithProperties replaces the process environment captured by the root frame.
func WithProperties(props map[string]string) Option {
	return func(o *systemOptions) {
		o.properties = make(map[string]string, len(props))
		for k, v := range props {
			o.properties[k] = v
		}
	}
}

// WithProxy sets the root proxy selector instead of reading it from the
// environment.
func WithProxy(p ProxyFunc) Option {
	return func(o *systemOptions) { o.proxy = p }
}

// WithPolicy sets the root policy. The default allows everything.
func WithPolicy(p Policy) Option {
	return func(o *systemOptions) { o.policy = p }
}

// System owns a root frame and the listeners notified by its stacks.
type System struct {
	root   *Frame
	logger logr.Logger

	mu        sync.RWMutex
	listeners []*registration
}

type registration struct {
	l Listener
}

// NewSystem captures the process state into a root frame. Streams that are
// unavailable are logged and replaced by inert ones rather than failing.
func NewSystem(opts ...Option) *System {
	o := systemOptions{
		logger: logr.Discard(),
		out:    os.Stdout,
		err:    os.Stderr,
		in:     os.Stdin,
		policy: AllowAll,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.properties == nil {
		o.properties = processEnvironment()
		if o.proxy == nil {
			o.proxy = ProxyFromConfig(httpproxy.FromEnvironment())
		}
	}
	if o.proxy == nil {
		o.proxy = ProxyFromProperties(o.properties)
	}

	s := &System{logger: o.logger}
	if o.out == nil || o.out == (*os.File)(nil) {
		s.logger.Info("standard output unavailable, output of this system is discarded")
		o.out = io.Discard
	}
	if o.err == nil || o.err == (*os.File)(nil) {
		s.logger.Info("standard error unavailable, error output of this system is discarded")
		o.err = io.Discard
	}
	if o.in == nil || o.in == (*os.File)(nil) {
		s.logger.Info("standard input unavailable, input of this system is empty")
		o.in = strings.NewReader("")
	}

	s.root = &Frame{
		id:       uuid.NewString(),
		name:     "root",
		system:   s,
		out:      o.out,
		err:      o.err,
		in:       o.in,
		props:    newProperties(o.properties),
		proxy:    o.proxy,
		policy:   &chain{base: o.policy},
		handlers: defaultHandlers(),
		drivers:  drivers{touched: true},
	}
	s.listeners = []*registration{{l: dropSnapshots{}}}
	return s
}

func processEnvironment() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Root returns the frame holding the captured process state.
func (s *System) Root() *Frame { return s.root }

// Fork creates a frame inheriting from parent, or from the root when parent
// is nil. The frame is not pushed anywhere.
func (s *System) Fork(parent *Frame, name string) *Frame {
	if parent == nil {
		parent = s.root
	}
	return parent.fork(name)
}

// NewStack returns a stack holding only the root frame.
func (s *System) NewStack() *Stack {
	return &Stack{system: s, frames: []*Frame{s.root}}
}

// AddListener registers l and returns a function removing it.
func (s *System) AddListener(l Listener) func() {
	r := &registration{l: l}
	s.mu.Lock()
	s.listeners = append(s.listeners, r)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.listeners {
			if existing == r {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *System) snapshotListeners() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Listener, len(s.listeners))
	for i, r := range s.listeners {
		out[i] = r.l
	}
	return out
}

func (s *System) notifyPush(f *Frame) {
	for _, l := range s.snapshotListeners() {
		l.OnPush(f)
	}
}

func (s *System) notifyPop(f *Frame) {
	for _, l := range s.snapshotListeners() {
		l.OnPop(f)
	}
}
