// Package kernel is the entry point hosts use: it compiles artifact graphs,
// attaches and starts the resulting configurations and resolves symbols
// through them. Every lifecycle mutation runs on the kernel's own worker, so
// hooks observe a single, ordered sequence of starts and stops.
package kernel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/enclave/internal/compiler"
	"github.com/anvil-platform/enclave/internal/component"
	"github.com/anvil-platform/enclave/internal/environment"
	"github.com/anvil-platform/enclave/internal/graph"
	"github.com/anvil-platform/enclave/internal/lifecycle"
	"github.com/anvil-platform/enclave/internal/resolver"
	"github.com/anvil-platform/enclave/internal/worker"
)

const workerName = "enclave-kernel"

type options struct {
	logger      logr.Logger
	system      *environment.System
	registry    *lifecycle.Registry
	entryPoints map[string]lifecycle.EntryPoint
	concurrency int
}

type Option func(*options)

// WithLogger sets the logger of the environment the kernel creates. It has
// no effect together with WithSystem.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSystem runs hooks in s instead of a fresh environment.
func WithSystem(s *environment.System) Option {
	return func(o *options) { o.system = s }
}

func WithRegistry(r *lifecycle.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithEntryPoint registers ep under id.
func WithEntryPoint(id string, ep lifecycle.EntryPoint) Option {
	return func(o *options) {
		if o.entryPoints == nil {
			o.entryPoints = map[string]lifecycle.EntryPoint{}
		}
		o.entryPoints[id] = ep
	}
}

// WithCompilerConcurrency bounds how many artifacts are enumerated at once.
func WithCompilerConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

type Kernel struct {
	system   *environment.System
	compiler *compiler.Compiler
	manager  *lifecycle.Manager
	worker   *worker.Worker

	applied *appliedSet

	// mu guards the kernel's share of the process wide gauges.
	mu          sync.Mutex
	attachments int
	cached      int
	retired     bool
}

func New(opts ...Option) *Kernel {
	o := options{logger: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.system == nil {
		o.system = environment.NewSystem(environment.WithLogger(o.logger))
	}
	if o.registry == nil {
		o.registry = lifecycle.NewRegistry()
	}
	for id, ep := range o.entryPoints {
		o.registry.Register(id, ep)
	}
	var copts []compiler.Option
	if o.concurrency > 0 {
		copts = append(copts, compiler.WithConcurrency(o.concurrency))
	}

	return &Kernel{
		system:   o.system,
		compiler: compiler.New(copts...),
		manager: lifecycle.New(
			lifecycle.WithRegistry(o.registry),
			lifecycle.WithSystem(o.system),
			lifecycle.WithObserver(observeHook),
		),
		worker:  worker.New(workerName, worker.WithObserver(observeTask)),
		applied: newAppliedSet(),
	}
}

// Environment returns the environment hooks run in.
func (k *Kernel) Environment() *environment.System { return k.system }

func (k *Kernel) Registry() *lifecycle.Registry { return k.manager.Registry() }

// NewWorker starts a serial worker whose tasks are reported in the kernel
// metrics.
func (k *Kernel) NewWorker(name string) *worker.Worker {
	return worker.New(name, worker.WithObserver(observeTask))
}

// Compile turns g into a configuration. Compilations are cached by key, so
// compiling an equivalent graph again returns the same configuration.
func (k *Kernel) Compile(ctx context.Context, g *graph.Graph, policy graph.MergePolicy, opts ...compiler.CompileOption) (*component.Configuration, error) {
	start := time.Now()
	cfg, err := k.compiler.Compile(ctx, g, policy, opts...)
	compileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		compileTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	compileTotal.WithLabelValues("success").Inc()
	k.report()
	return cfg, nil
}

// report moves the gauges by the change in this kernel's own counts, so
// several kernels in one process add up instead of overwriting each other.
func (k *Kernel) report() {
	attachments, cached := len(k.manager.Attachments()), k.compiler.Len()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.retired {
		return
	}
	k.move(attachments, cached)
}

// retire withdraws the kernel's share of the gauges for good.
func (k *Kernel) retire() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.move(0, 0)
	k.retired = true
}

func (k *Kernel) move(attachments, cached int) {
	attachmentsActive.Add(float64(attachments - k.attachments))
	configurationsCached.Add(float64(cached - k.cached))
	k.attachments, k.cached = attachments, cached
}

// run executes fn on the kernel worker. When the caller stops waiting
// while fn is still queued or running, a successful result is handed to
// undo on the worker instead of being lost.
func run[T any](ctx context.Context, k *Kernel, fn func(ctx context.Context) (T, error), undo func(ctx context.Context, v T) error) (T, error) {
	f := worker.Do(ctx, k.worker, fn)
	v, err := f.Wait(ctx)
	if err != nil && undo != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		go k.reclaim(context.WithoutCancel(ctx), func(ctx context.Context) error {
			late, err := f.Wait(ctx)
			if err != nil {
				return nil
			}
			return k.exec(ctx, func(ctx context.Context) error { return undo(ctx, late) })
		})
	}
	return v, err
}

func (k *Kernel) reclaim(ctx context.Context, fn func(ctx context.Context) error) {
	// A closed kernel already detached and released everything.
	if err := fn(ctx); err != nil && !errors.Is(err, worker.ErrClosed) {
		log.FromContext(ctx).Error(err, "unable to undo an abandoned kernel call")
	}
	k.report()
}

func (k *Kernel) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := k.worker.Submit(ctx, fn).Wait(ctx)
	return err
}

func (k *Kernel) Attach(ctx context.Context, cfg *component.Configuration) (lifecycle.ID, error) {
	id, err := run(ctx, k, func(ctx context.Context) (lifecycle.ID, error) {
		return k.manager.Attach(ctx, cfg)
	}, k.manager.Detach)
	k.report()
	return id, err
}

func (k *Kernel) Detach(ctx context.Context, id lifecycle.ID) error {
	err := k.exec(ctx, func(ctx context.Context) error {
		return k.manager.Detach(ctx, id)
	})
	k.report()
	return err
}

// Handoff frees id without stopping it, for adoption by the next Attach of
// the same configuration key.
func (k *Kernel) Handoff(ctx context.Context, id lifecycle.ID) (*lifecycle.Handoff, error) {
	h, err := run(ctx, k, func(ctx context.Context) (*lifecycle.Handoff, error) {
		return k.manager.Handoff(ctx, id)
	}, func(ctx context.Context, h *lifecycle.Handoff) error {
		if err := h.Release(ctx); err != nil && !errors.Is(err, lifecycle.ErrHandoffDone) {
			return err
		}
		return nil
	})
	k.report()
	return h, err
}

// ReleaseHandoff stops and drops a handoff nobody adopted.
func (k *Kernel) ReleaseHandoff(ctx context.Context, h *lifecycle.Handoff) error {
	return k.exec(ctx, h.Release)
}

func (k *Kernel) Start(ctx context.Context, id lifecycle.ID) error {
	return k.exec(ctx, func(ctx context.Context) error {
		return k.manager.Start(ctx, id)
	})
}

func (k *Kernel) Stop(ctx context.Context, id lifecycle.ID) error {
	return k.exec(ctx, func(ctx context.Context) error {
		return k.manager.Stop(ctx, id)
	})
}

func (k *Kernel) IsStarted(ctx context.Context, id lifecycle.ID) (bool, error) {
	return k.manager.IsStarted(id)
}

// Attachments lists the attached ids.
func (k *Kernel) Attachments() []lifecycle.ID { return k.manager.Attachments() }

// Describe reports the root node of id.
func (k *Kernel) Describe(id lifecycle.ID) (resolver.Diagnostics, error) {
	n, err := k.manager.Node(id)
	if err != nil {
		return resolver.Diagnostics{}, err
	}
	return n.Describe(), nil
}

// Resolve loads a class name through the attachment id. Failures are
// *resolver.SymbolNotFoundError.
func (k *Kernel) Resolve(ctx context.Context, id lifecycle.ID, symbol string) (resolver.Unit, error) {
	n, err := k.manager.Node(id)
	if err != nil {
		return resolver.Unit{}, err
	}
	u, err := n.LoadSymbol(symbol)
	if err != nil {
		log.FromContext(ctx).V(1).Info("symbol not resolved", "attachment", id, "symbol", symbol, "error", err.Error())
	}
	return u, err
}

func (k *Kernel) ResolveResource(ctx context.Context, id lifecycle.ID, name string) (resolver.Unit, error) {
	n, err := k.manager.Node(id)
	if err != nil {
		return resolver.Unit{}, err
	}
	return n.Resource(name)
}

// ResolveResources returns every unit named name visible from id, in
// delegation order.
func (k *Kernel) ResolveResources(ctx context.Context, id lifecycle.ID, name string) ([]resolver.Unit, error) {
	n, err := k.manager.Node(id)
	if err != nil {
		return nil, err
	}
	return n.Resources(name)
}

// Close stops and detaches every attachment, releases pending handoffs and
// stops the kernel worker.
func (k *Kernel) Close(ctx context.Context) error {
	err := k.exec(ctx, func(ctx context.Context) error {
		logger := log.FromContext(ctx)
		for _, id := range k.manager.Attachments() {
			if err := k.manager.Detach(ctx, id); err != nil {
				logger.Error(err, "detach on close", "attachment", id)
			}
		}
		for _, h := range k.manager.Handoffs() {
			if err := h.Release(ctx); err != nil {
				logger.Error(err, "release handoff on close", "key", h.Key().Short())
			}
		}
		return nil
	})
	k.retire()
	k.applied.reset()
	if err != nil {
		return err
	}
	return k.worker.Close(ctx)
}
