package kernel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/log"

	enclavev1alpha1 "github.com/anvil-platform/enclave/api/v1alpha1"
	"github.com/anvil-platform/enclave/internal/environment"
	"github.com/anvil-platform/enclave/internal/graph"
	"github.com/anvil-platform/enclave/internal/lifecycle"
	"github.com/anvil-platform/enclave/internal/location"
	"github.com/anvil-platform/enclave/internal/resolver"
	"github.com/anvil-platform/enclave/internal/worker"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return log.IntoContext(context.Background(), testr.New(t))
}

type counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *counter) entryPoint(name string) lifecycle.EntryPoint {
	return lifecycle.EntryPointFuncs{
		StartFunc: func(context.Context) error { c.inc("start:" + name); return nil },
		StopFunc:  func(context.Context) error { c.inc("stop:" + name); return nil },
	}
}

func (c *counter) inc(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[k]++
}

func (c *counter) get(k string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[k]
}

func newKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	sys := environment.NewSystem(environment.WithProperties(map[string]string{}))
	k := New(append([]Option{WithSystem(sys)}, opts...)...)
	t.Cleanup(func() {
		if err := k.Close(context.Background()); err != nil && !errors.Is(err, worker.ErrClosed) {
			t.Errorf("Close: %v", err)
		}
	})
	return k
}

func shopGraph() *graph.Graph {
	g := graph.New("acme:app:1.0.0")
	g.Artifacts["acme:app:1.0.0"] = &graph.Artifact{
		ID:           "acme:app:1.0.0",
		Locations:    []location.Location{location.MemoryOf("app.jar", "app/Main.class", "META-INF/plugin.txt")},
		Dependencies: []graph.Edge{{Target: "acme:lib:1.0.0"}},
		EntryPoints:  []string{"app"},
	}
	g.Artifacts["acme:lib:1.0.0"] = &graph.Artifact{
		ID:          "acme:lib:1.0.0",
		Locations:   []location.Location{location.MemoryOf("lib.jar", "lib/Util.class", "META-INF/plugin.txt")},
		EntryPoints: []string{"lib"},
	}
	return g
}

func TestKernel_AttachStartResolve(t *testing.T) {
	ctx := testContext(t)
	c := &counter{}
	k := newKernel(t, WithEntryPoint("app", c.entryPoint("app")), WithEntryPoint("lib", c.entryPoint("lib")))

	cfg, err := k.Compile(ctx, shopGraph(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	again, err := k.Compile(ctx, shopGraph(), nil)
	if err != nil || again != cfg {
		t.Fatalf("compiling an equal graph must return the cached configuration: %v", err)
	}

	before := testutil.ToFloat64(attachmentsActive)
	id, err := k.Attach(ctx, cfg)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if got := testutil.ToFloat64(attachmentsActive) - before; got != 1 {
		t.Fatalf("attachments gauge = %v, want 1", got)
	}
	if err := k.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started, err := k.IsStarted(ctx, id); err != nil || !started {
		t.Fatalf("IsStarted = %v, %v", started, err)
	}
	if c.get("start:app") != 1 || c.get("start:lib") != 1 {
		t.Fatalf("start hooks = %v", c.counts)
	}

	u, err := k.Resolve(ctx, id, "lib.Util")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if u.Node.String() != "acme:lib:1.0.0" {
		t.Fatalf("lib.Util resolved from %s", u.Node)
	}

	_, err = k.Resolve(ctx, id, "org.other.Thing")
	var snf *resolver.SymbolNotFoundError
	if !errors.As(err, &snf) || snf.Name != "org.other.Thing" {
		t.Fatalf("expected SymbolNotFoundError for org.other.Thing, got %v", err)
	}

	units, err := k.ResolveResources(ctx, id, "META-INF/plugin.txt")
	if err != nil {
		t.Fatalf("ResolveResources: %v", err)
	}
	var urls []string
	for _, u := range units {
		urls = append(urls, u.URL())
	}
	want := []string{"app.jar!/META-INF/plugin.txt", "lib.jar!/META-INF/plugin.txt"}
	if diff := cmp.Diff(want, urls); diff != "" {
		t.Fatalf("resources mismatch (-want +got):\n%s", diff)
	}
	if _, err := k.ResolveResource(ctx, id, "lib/Util.class"); err != nil {
		t.Fatalf("ResolveResource: %v", err)
	}

	d, err := k.Describe(id)
	if err != nil || d.Name != "acme:app:1.0.0" {
		t.Fatalf("Describe = %+v, %v", d, err)
	}

	if err := k.Stop(ctx, id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := k.Detach(ctx, id); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if c.get("stop:app") != 1 || c.get("stop:lib") != 1 {
		t.Fatalf("stop hooks = %v", c.counts)
	}
	if _, err := k.Resolve(ctx, id, "lib.Util"); !errors.Is(err, lifecycle.ErrUnknownAttachment) {
		t.Fatalf("expected ErrUnknownAttachment after Detach, got %v", err)
	}
}

func TestKernel_HooksCannotReenter(t *testing.T) {
	ctx := testContext(t)
	var (
		k         *Kernel
		reentered error
	)
	k = newKernel(t, WithEntryPoint("app", lifecycle.EntryPointFuncs{
		StartFunc: func(ctx context.Context) error {
			cfg, err := k.Compile(ctx, shopGraph(), nil)
			if err != nil {
				return err
			}
			_, reentered = k.Attach(ctx, cfg)
			return nil
		},
	}))
	failuresBefore := testutil.ToFloat64(hookFailuresTotal.WithLabelValues("start"))

	cfg, err := k.Compile(ctx, shopGraph(), nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := k.Attach(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !errors.Is(reentered, worker.ErrReentrant) {
		t.Fatalf("attach from a hook: expected ErrReentrant, got %v", reentered)
	}
	if got := testutil.ToFloat64(hookFailuresTotal.WithLabelValues("start")) - failuresBefore; got != 0 {
		t.Fatalf("hook returned nil but %v failures were counted", got)
	}
}

func TestKernel_HandoffAndClose(t *testing.T) {
	ctx := testContext(t)
	c := &counter{}
	k := newKernel(t, WithEntryPoint("app", c.entryPoint("app")))

	cfg, err := k.Compile(ctx, shopGraph(), nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := k.Attach(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Start(ctx, id); err != nil {
		t.Fatal(err)
	}
	h, err := k.Handoff(ctx, id)
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if len(k.Attachments()) != 0 {
		t.Fatalf("handed off attachment still listed")
	}
	adopted, err := k.Attach(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if started, _ := k.IsStarted(ctx, adopted); !started {
		t.Fatalf("adopted attachment must be started")
	}
	if err := k.ReleaseHandoff(ctx, h); !errors.Is(err, lifecycle.ErrHandoffDone) {
		t.Fatalf("expected ErrHandoffDone, got %v", err)
	}

	if err := k.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.get("start:app") != 1 || c.get("stop:app") != 1 {
		t.Fatalf("hooks = %v", c.counts)
	}
	if _, err := k.Attach(ctx, cfg); !errors.Is(err, worker.ErrClosed) {
		t.Fatalf("Attach after Close: expected ErrClosed, got %v", err)
	}
}

// writeTree creates files under dir and returns its "dir:" reference.
func writeTree(t *testing.T, dir string, names ...string) string {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(dir, filepath.FromSlash(n))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(n), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return "dir:" + dir
}

func artifactGraph(t *testing.T) *enclavev1alpha1.ArtifactGraph {
	t.Helper()
	root := t.TempDir()
	app := writeTree(t, filepath.Join(root, "app"), "app/Main.class")
	lib1 := writeTree(t, filepath.Join(root, "lib1"), "lib/Util.class")
	lib2 := writeTree(t, filepath.Join(root, "lib2"), "lib/Util.class", "lib/New.class")
	return &enclavev1alpha1.ArtifactGraph{
		ObjectMeta: metav1.ObjectMeta{Name: "shop"},
		Spec: enclavev1alpha1.ArtifactGraphSpec{
			Mediate: true,
			Artifacts: []enclavev1alpha1.ArtifactSpec{
				{
					ID:          "acme:app:1.0.0",
					Locations:   []string{app},
					EntryPoints: []string{"app"},
					Dependencies: []enclavev1alpha1.DependencySpec{
						{ID: "acme:lib:1.0.0"},
					},
				},
				{ID: "acme:lib:1.0.0", Locations: []string{lib1}, EntryPoints: []string{"lib"}},
				{ID: "acme:lib:2.0.0", Locations: []string{lib2}, EntryPoints: []string{"lib"}},
				{ID: "acme:tool:1.0.0", Dependencies: []enclavev1alpha1.DependencySpec{{ID: "acme:lib:2.0.0"}}},
			},
		},
	}
}

func manifest(root string) *enclavev1alpha1.ComponentManifest {
	return &enclavev1alpha1.ComponentManifest{
		ObjectMeta: metav1.ObjectMeta{Name: "shop-app", Namespace: "default", Generation: 1},
		Spec: enclavev1alpha1.ComponentManifestSpec{
			GraphRef: enclavev1alpha1.ObjectRef{Name: "shop"},
			Root:     root,
		},
	}
}

func TestBuildGraph(t *testing.T) {
	ag := artifactGraph(t)
	g, err := BuildGraph(ag, "acme:app:1.0.0")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	// Mediation leaves a single acme:lib, the highest version.
	if _, ok := g.Get("acme:lib:1.0.0"); ok {
		t.Fatalf("acme:lib:1.0.0 must be mediated away")
	}
	if diff := cmp.Diff([]graph.ID{"acme:lib:2.0.0"}, g.Successors("acme:app:1.0.0")); diff != "" {
		t.Fatalf("app successors mismatch (-want +got):\n%s", diff)
	}

	ag.Spec.Pins = map[string]string{"acme:lib": "<2.0.0"}
	g, err = BuildGraph(ag, "acme:app:1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]graph.ID{"acme:lib:1.0.0"}, g.Successors("acme:app:1.0.0")); diff != "" {
		t.Fatalf("pinned successors mismatch (-want +got):\n%s", diff)
	}

	ag.Spec.Artifacts[0].Locations = []string{filepath.Join(t.TempDir(), "missing")}
	if _, err := BuildGraph(ag, "acme:app:1.0.0"); err == nil {
		t.Fatalf("expected an error for a missing location")
	}
}

func TestApply(t *testing.T) {
	ctx := testContext(t)
	c := &counter{}
	k := newKernel(t, WithEntryPoint("app", c.entryPoint("app")), WithEntryPoint("lib", c.entryPoint("lib")))
	ag := artifactGraph(t)
	m := manifest("acme:app:1.0.0")

	if err := k.Apply(ctx, ag, m); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, cond := range []string{enclavev1alpha1.ConditionCompiled, enclavev1alpha1.ConditionAttached, enclavev1alpha1.ConditionStarted} {
		if !meta.IsStatusConditionTrue(m.Status.Conditions, cond) {
			t.Fatalf("condition %s not true: %+v", cond, m.Status.Conditions)
		}
	}
	if m.Status.Phase != enclavev1alpha1.PhaseRunning || m.Status.Key == "" || m.Status.Attachment == nil {
		t.Fatalf("status = %+v", m.Status)
	}
	if got := meta.FindStatusCondition(m.Status.Conditions, enclavev1alpha1.ConditionStarted).ObservedGeneration; got != 1 {
		t.Fatalf("ObservedGeneration = %d, want 1", got)
	}
	id, ok := k.Applied(types.NamespacedName{Namespace: "default", Name: "shop-app"})
	if !ok || int32(id) != *m.Status.Attachment {
		t.Fatalf("Applied = %d, %v", id, ok)
	}
	if u, err := k.Resolve(ctx, id, "lib.New"); err != nil || u.Node.String() != "acme:lib:2.0.0" {
		t.Fatalf("Resolve(lib.New) = %v, %v", u.Node, err)
	}

	// Unchanged re-apply keeps the attachment and does not rerun hooks.
	if err := k.Apply(ctx, ag, m); err != nil {
		t.Fatal(err)
	}
	if again, _ := k.Applied(types.NamespacedName{Namespace: "default", Name: "shop-app"}); again != id {
		t.Fatalf("re-apply moved the attachment from %d to %d", id, again)
	}
	if c.get("start:app") != 1 || c.get("start:lib") != 1 {
		t.Fatalf("start hooks = %v", c.counts)
	}

	m.Spec.Suspend = true
	m.Generation = 2
	if err := k.Apply(ctx, ag, m); err != nil {
		t.Fatal(err)
	}
	if meta.IsStatusConditionTrue(m.Status.Conditions, enclavev1alpha1.ConditionStarted) || m.Status.Phase != enclavev1alpha1.PhaseAttached {
		t.Fatalf("suspended manifest still started: %+v", m.Status)
	}
	if started, _ := k.IsStarted(ctx, id); started {
		t.Fatalf("suspend must stop the attachment")
	}

	if err := k.Remove(ctx, types.NamespacedName{Namespace: "default", Name: "shop-app"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(k.Attachments()) != 0 {
		t.Fatalf("Remove left attachments: %v", k.Attachments())
	}
}

func TestApply_ConfigurationChangeSwapsAttachment(t *testing.T) {
	ctx := testContext(t)
	c := &counter{}
	k := newKernel(t, WithEntryPoint("app", c.entryPoint("app")), WithEntryPoint("lib", c.entryPoint("lib")))
	ag := artifactGraph(t)
	m := manifest("acme:app:1.0.0")
	if err := k.Apply(ctx, ag, m); err != nil {
		t.Fatal(err)
	}
	firstKey := m.Status.Key

	ag.Spec.Pins = map[string]string{"acme:lib": "<2.0.0"}
	if err := k.Apply(ctx, ag, m); err != nil {
		t.Fatal(err)
	}
	if m.Status.Key == firstKey {
		t.Fatalf("pinning a different lib must change the key")
	}
	if n := len(k.Attachments()); n != 1 {
		t.Fatalf("attachments = %d, want the previous one detached", n)
	}
	// lib 2.0.0 and the old app stopped; lib 1.0.0 and the new app started.
	if c.get("start:app") != 2 || c.get("stop:app") != 1 || c.get("start:lib") != 2 || c.get("stop:lib") != 1 {
		t.Fatalf("hooks = %v", c.counts)
	}
}

func TestApply_Failures(t *testing.T) {
	ctx := testContext(t)
	k := newKernel(t)

	m := manifest("acme:app:1.0.0")
	if err := k.Apply(ctx, nil, m); !errors.Is(err, ErrGraphNotFound) {
		t.Fatalf("expected ErrGraphNotFound, got %v", err)
	}
	cond := meta.FindStatusCondition(m.Status.Conditions, enclavev1alpha1.ConditionCompiled)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != ReasonGraphNotFound {
		t.Fatalf("Compiled condition = %+v", cond)
	}
	if m.Status.Phase != enclavev1alpha1.PhaseFailed {
		t.Fatalf("phase = %q", m.Status.Phase)
	}

	ag := artifactGraph(t)
	ag.Spec.Artifacts[1].Dependencies = []enclavev1alpha1.DependencySpec{{ID: "acme:app:1.0.0"}}
	ag.Spec.Mediate = false
	m = manifest("acme:app:1.0.0")
	m.Spec.CyclePolicy = enclavev1alpha1.CyclePolicyReject
	if err := k.Apply(ctx, ag, m); !errors.Is(err, graph.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	cond = meta.FindStatusCondition(m.Status.Conditions, enclavev1alpha1.ConditionCompiled)
	if cond == nil || cond.Reason != ReasonCompileFailed {
		t.Fatalf("Compiled condition = %+v", cond)
	}

	m = manifest("acme:app:1.0.0")
	m.Spec.Scope = "galaxy"
	if err := k.Apply(ctx, ag, m); err == nil {
		t.Fatalf("expected an error for an unknown scope")
	}
}

func TestRun_UndoesResultOfAbandonedCall(t *testing.T) {
	ctx := testContext(t)
	k := newKernel(t)
	cfg, err := k.Compile(ctx, shopGraph(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	running := make(chan struct{})
	proceed := make(chan struct{})
	undone := make(chan lifecycle.ID, 1)
	go func() {
		<-running
		cancel()
	}()

	_, err = run(callCtx, k, func(ctx context.Context) (lifecycle.ID, error) {
		close(running)
		<-proceed
		return k.manager.Attach(context.WithoutCancel(ctx), cfg)
	}, func(ctx context.Context, id lifecycle.ID) error {
		err := k.manager.Detach(ctx, id)
		undone <- id
		return err
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(proceed)

	select {
	case id := <-undone:
		if id != 0 {
			t.Fatalf("undid attachment %d, want 0", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("abandoned attachment was never detached")
	}
	if got := k.Attachments(); len(got) != 0 {
		t.Fatalf("attachments after undo = %v, want none", got)
	}
}

func TestRun_SkippedCallNeedsNoUndo(t *testing.T) {
	ctx := testContext(t)
	k := newKernel(t)

	callCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := run(callCtx, k, func(context.Context) (int, error) {
		t.Errorf("task of a cancelled call must not run")
		return 1, nil
	}, func(context.Context, int) error {
		t.Errorf("nothing to undo for a call that never ran")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Runs only after the skipped task left the queue.
	if err := k.exec(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("exec: %v", err)
	}
}

func TestMetrics_KernelsAddUp(t *testing.T) {
	ctx := testContext(t)
	attachedBefore := testutil.ToFloat64(attachmentsActive)
	cachedBefore := testutil.ToFloat64(configurationsCached)

	a, b := newKernel(t), newKernel(t)
	for _, k := range []*Kernel{a, b} {
		cfg, err := k.Compile(ctx, shopGraph(), nil)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		if _, err := k.Attach(ctx, cfg); err != nil {
			t.Fatalf("Attach: %v", err)
		}
	}
	if got := testutil.ToFloat64(attachmentsActive) - attachedBefore; got != 2 {
		t.Fatalf("attachments gauge moved by %v, want 2", got)
	}
	if got := testutil.ToFloat64(configurationsCached) - cachedBefore; got != 4 {
		t.Fatalf("configurations gauge moved by %v, want 4", got)
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := testutil.ToFloat64(attachmentsActive) - attachedBefore; got != 1 {
		t.Fatalf("after closing one kernel the gauge moved by %v, want 1", got)
	}
	if got := testutil.ToFloat64(configurationsCached) - cachedBefore; got != 2 {
		t.Fatalf("after closing one kernel the configurations gauge moved by %v, want 2", got)
	}
}
