package worker

import "context"

// Future is the handle of a submitted task.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.complete(*new(T), err)
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Done is closed once the task finished, failed or was cancelled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task completes or ctx is done. A ctx error does not
// cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
