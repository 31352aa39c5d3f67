package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/enclave/internal/environment"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return log.IntoContext(ctx, testr.New(t))
}

func newWorker(t *testing.T, opts ...Option) *Worker {
	t.Helper()
	w := New("test-"+t.Name(), opts...)
	t.Cleanup(func() {
		if err := w.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return w
}

func TestDo_ReturnsValue(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	got, err := Do(ctx, w, func(context.Context) (int, error) { return 42, nil }).Wait(ctx)
	if err != nil || got != 42 {
		t.Fatalf("Do = %d, %v", got, err)
	}

	boom := errors.New("boom")
	if _, err := w.Submit(ctx, func(context.Context) error { return boom }).Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestSubmit_RunsInOrder(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	var (
		mu  sync.Mutex
		got []int
	)
	futures := make([]*Future[struct{}], 0, 100)
	for i := 0; i < 100; i++ {
		futures = append(futures, w.Submit(ctx, func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_NeverOverlaps(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	var (
		mu      sync.Mutex
		running int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = w.Submit(ctx, func(context.Context) error {
					mu.Lock()
					running++
					if running > 1 {
						overlap = true
					}
					mu.Unlock()
					time.Sleep(time.Microsecond)
					mu.Lock()
					running--
					mu.Unlock()
					return nil
				}).Wait(ctx)
			}
		}()
	}
	wg.Wait()
	if overlap {
		t.Fatalf("tasks ran concurrently")
	}
}

type submission struct {
	submitter int
	seq       int
}

func TestSubmit_KeepsEachSubmitterOrderUnderConcurrency(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	const submitters, perSubmitter = 8, 50
	var (
		mu  sync.Mutex
		got []submission
		wg  sync.WaitGroup
	)
	futures := make([][]*Future[struct{}], submitters)
	for g := 0; g < submitters; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := 0; seq < perSubmitter; seq++ {
				futures[g] = append(futures[g], w.Submit(ctx, func(context.Context) error {
					mu.Lock()
					got = append(got, submission{submitter: g, seq: seq})
					mu.Unlock()
					return nil
				}))
			}
		}()
	}
	wg.Wait()
	for _, fs := range futures {
		for _, f := range fs {
			if _, err := f.Wait(ctx); err != nil {
				t.Fatalf("Wait: %v", err)
			}
		}
	}

	if len(got) != submitters*perSubmitter {
		t.Fatalf("ran %d tasks, want %d", len(got), submitters*perSubmitter)
	}
	next := make([]int, submitters)
	for i, s := range got {
		if s.seq != next[s.submitter] {
			t.Fatalf("entry %d: submitter %d ran seq %d, want %d", i, s.submitter, s.seq, next[s.submitter])
		}
		next[s.submitter]++
	}
}

func TestSubmit_HappensBeforeAcrossGoroutines(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	for i := 0; i < 50; i++ {
		var (
			mu  sync.Mutex
			got []string
		)
		record := func(name string) func(context.Context) error {
			return func(context.Context) error {
				mu.Lock()
				got = append(got, name)
				mu.Unlock()
				return nil
			}
		}

		submitted := make(chan struct{})
		second := make(chan *Future[struct{}])
		go func() {
			<-submitted
			second <- w.Submit(ctx, record("second"))
		}()
		first := w.Submit(ctx, record("first"))
		close(submitted)

		if _, err := (<-second).Wait(ctx); err != nil {
			t.Fatalf("Wait(second): %v", err)
		}
		if _, err := first.Wait(ctx); err != nil {
			t.Fatalf("Wait(first): %v", err)
		}
		mu.Lock()
		order := append([]string(nil), got...)
		mu.Unlock()
		if diff := cmp.Diff([]string{"first", "second"}, order); diff != "" {
			t.Fatalf("iteration %d order mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestDo_Reentrant(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	_, err := w.Submit(ctx, func(ctx context.Context) error {
		if !w.InWorker(ctx) {
			t.Errorf("task context must be marked as running on the worker")
		}
		_, err := w.Submit(ctx, func(context.Context) error { return nil }).Wait(ctx)
		return err
	}).Wait(ctx)
	if !errors.Is(err, ErrReentrant) {
		t.Fatalf("expected ErrReentrant, got %v", err)
	}

	other := newWorker(t)
	_, err = w.Submit(ctx, func(ctx context.Context) error {
		_, err := other.Submit(ctx, func(context.Context) error { return nil }).Wait(ctx)
		return err
	}).Wait(ctx)
	if err != nil {
		t.Fatalf("submitting to another worker must succeed: %v", err)
	}
}

func TestInterrupt_CancelsQueued(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	first := w.Submit(ctx, func(context.Context) error {
		close(entered)
		<-release
		return nil
	})
	<-entered
	queued := w.Submit(ctx, func(context.Context) error {
		t.Errorf("queued task must not run after Interrupt")
		return nil
	})

	w.Interrupt()
	close(release)

	if _, err := first.Wait(ctx); err != nil {
		t.Fatalf("running task must complete: %v", err)
	}
	if _, err := queued.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if _, err := w.Submit(ctx, func(context.Context) error { return nil }).Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("submission after Interrupt: expected ErrCancelled, got %v", err)
	}
	if err := w.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestClose_DrainsQueued(t *testing.T) {
	ctx := testContext(t)
	w := New("drain")

	var ran int
	var futures []*Future[struct{}]
	for i := 0; i < 10; i++ {
		futures = append(futures, w.Submit(ctx, func(context.Context) error {
			ran++
			return nil
		}))
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("queued task failed: %v", err)
		}
	}
	if ran != 10 {
		t.Fatalf("ran %d tasks, want 10", ran)
	}
	if _, err := w.Submit(ctx, func(context.Context) error { return nil }).Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDo_RecoversPanic(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	if _, err := w.Submit(ctx, func(context.Context) error { panic("kaboom") }).Wait(ctx); err == nil {
		t.Fatalf("expected an error from a panicking task")
	}
	if v, err := Do(ctx, w, func(context.Context) (string, error) { return "alive", nil }).Wait(ctx); err != nil || v != "alive" {
		t.Fatalf("worker must survive a panic: %q, %v", v, err)
	}
}

func TestDo_CancelledContextSkipsTask(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	blocker := w.Submit(ctx, func(context.Context) error {
		close(entered)
		<-release
		return nil
	})
	<-entered

	taskCtx, cancel := context.WithCancel(ctx)
	skipped := w.Submit(taskCtx, func(context.Context) error {
		t.Errorf("task with a cancelled context must not run")
		return nil
	})
	cancel()
	close(release)

	if _, err := blocker.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := skipped.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_ForksEnvironment(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	sys := environment.NewSystem(environment.WithProperties(map[string]string{"mode": "outer"}))
	stack := sys.NewStack()
	ctx = environment.WithStack(ctx, stack)

	_, err := w.Submit(ctx, func(ctx context.Context) error {
		inner, ok := environment.StackFrom(ctx)
		if !ok {
			return errors.New("no stack in task context")
		}
		if inner == stack {
			return errors.New("task must run on a fork of the submitter's stack")
		}
		if v, _ := environment.LookupEnv(ctx, "mode"); v != "outer" {
			return errors.New("task must see the submitter's properties, got " + v)
		}
		inner.PushNamed("task").Setenv("mode", "inner")
		return nil
	}).Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stack.Depth() != 0 {
		t.Fatalf("submitter stack depth = %d, want 0", stack.Depth())
	}
	if v, _ := environment.LookupEnv(ctx, "mode"); v != "outer" {
		t.Fatalf("task push leaked into submitter: mode=%q", v)
	}
}

func TestObserver(t *testing.T) {
	ctx := testContext(t)
	var (
		mu    sync.Mutex
		calls int
		errs  int
	)
	w := newWorker(t, WithObserver(func(name string, _, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if err != nil {
			errs++
		}
	}))
	_, _ = w.Submit(ctx, func(context.Context) error { return nil }).Wait(ctx)
	_, _ = w.Submit(ctx, func(context.Context) error { return errors.New("x") }).Wait(ctx)
	// The observer runs after the future completes; a third task orders it.
	_, _ = w.Submit(ctx, func(context.Context) error { return nil }).Wait(ctx)

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 || errs != 1 {
		t.Fatalf("observer calls=%d errs=%d", calls, errs)
	}
}
