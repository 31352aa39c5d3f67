// Package worker provides a single consumer serial executor. Tasks run one
// at a time, in submission order, on one goroutine owned by the Worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/enclave/internal/environment"
)

var (
	// ErrCancelled fails tasks still queued when the worker is interrupted,
	// and tasks submitted afterwards.
	ErrCancelled = errors.New("task cancelled: worker interrupted")
	// ErrClosed fails tasks submitted after Close.
	ErrClosed = errors.New("worker closed")
	// ErrReentrant is returned when a task submits to its own worker; waiting
	// on such a task would deadlock.
	ErrReentrant = errors.New("reentrant submission from the worker's own task")
)

// Observer is told about every task that ran.
type Observer func(worker string, queued, ran time.Duration, err error)

// Option configures New.
type Option func(*Worker)

func WithObserver(o Observer) Option {
	return func(w *Worker) { w.observer = o }
}

type task struct {
	ctx      context.Context
	queuedAt time.Time
	run      func(ctx context.Context) error
	cancel   func(err error)
}

// Worker drains a FIFO of tasks on a single goroutine.
type Worker struct {
	name     string
	queue    workqueue.TypedInterface[*task]
	observer Observer

	mu          sync.Mutex
	interrupted bool
	closed      bool

	stopped chan struct{}
}

// New starts a worker. name labels its queue metrics and logs.
func New(name string, opts ...Option) *Worker {
	w := &Worker{
		name: name,
		queue: workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[*task]{
			Name: name,
		}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w
}

func (w *Worker) Name() string { return w.name }

// Len reports the number of queued tasks.
func (w *Worker) Len() int { return w.queue.Len() }

type runningKey struct{}

// InWorker reports whether ctx belongs to a task running on w.
func (w *Worker) InWorker(ctx context.Context) bool {
	running, _ := ctx.Value(runningKey{}).(*Worker)
	return running == w
}

// Do submits fn to w and returns its handle. The task context keeps the
// values of ctx, carries a fork of ctx's environment stack and is cancelled
// with ctx.
func Do[T any](ctx context.Context, w *Worker, fn func(ctx context.Context) (T, error)) *Future[T] {
	if w.InWorker(ctx) {
		return failed[T](fmt.Errorf("%s: %w", w.name, ErrReentrant))
	}

	fut := newFuture[T]()
	t := &task{
		ctx:      ctx,
		queuedAt: time.Now(),
		run: func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task panicked: %v", r)
					fut.complete(*new(T), err)
				}
			}()
			v, err := fn(ctx)
			fut.complete(v, err)
			return err
		},
		cancel: func(err error) { fut.complete(*new(T), err) },
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.interrupted:
		return failed[T](ErrCancelled)
	case w.closed:
		return failed[T](ErrClosed)
	}
	w.queue.Add(t)
	return fut
}

// Submit is Do for tasks without a result.
func (w *Worker) Submit(ctx context.Context, fn func(ctx context.Context) error) *Future[struct{}] {
	return Do(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for {
		t, shutdown := w.queue.Get()
		if shutdown {
			return
		}
		w.execute(t)
		w.queue.Done(t)
	}
}

func (w *Worker) execute(t *task) {
	w.mu.Lock()
	interrupted := w.interrupted
	w.mu.Unlock()
	if interrupted {
		t.cancel(ErrCancelled)
		return
	}
	if err := t.ctx.Err(); err != nil {
		t.cancel(err)
		return
	}

	ctx := context.WithValue(t.ctx, runningKey{}, w)
	if stack, ok := environment.StackFrom(ctx); ok {
		ctx = environment.WithStack(ctx, stack.Fork())
	}

	start := time.Now()
	err := t.run(ctx)
	if err != nil {
		log.FromContext(ctx).V(1).Info("task failed", "worker", w.name, "error", err.Error())
	}
	if w.observer != nil {
		w.observer(w.name, start.Sub(t.queuedAt), time.Since(start), err)
	}
}

// Interrupt stops the worker after the running task. Queued tasks fail with
// ErrCancelled.
func (w *Worker) Interrupt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.interrupted {
		return
	}
	w.interrupted = true
	w.queue.ShutDown()
}

// Close stops accepting tasks, runs the ones already queued and returns once
// the worker goroutine exits or ctx is done.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.queue.ShutDown()
	}
	w.mu.Unlock()
	return w.Join(ctx)
}

// Shutdown interrupts the worker and waits for it to exit.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.Interrupt()
	return w.Join(ctx)
}

// Join waits for the worker goroutine to exit.
func (w *Worker) Join(ctx context.Context) error {
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
