package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anvil-platform/enclave/internal/environment"
	"github.com/anvil-platform/enclave/internal/graph"
	"github.com/anvil-platform/enclave/internal/lifecycle"
	"github.com/anvil-platform/enclave/internal/location"
	"github.com/anvil-platform/enclave/kernel"
)

// syntheticGraph builds app-<i> on top of a ladder of shared libraries:
// every app depends on lib-0..lib-(width-1), each lib on the shared base.
func syntheticGraph(app, width, classes int) *graph.Graph {
	root := graph.NewID("load", fmt.Sprintf("app-%d", app), "1.0.0")
	base := graph.NewID("load", "base", "1.0.0")
	g := graph.New(root)

	g.MustAdd(base, []location.Location{location.MemoryOf("base.jar", names("base", classes)...)})
	var libs []graph.ID
	for l := 0; l < width; l++ {
		id := graph.NewID("load", fmt.Sprintf("lib-%d", l), "1.0.0")
		g.MustAdd(id, []location.Location{location.MemoryOf(fmt.Sprintf("lib-%d.jar", l), names(fmt.Sprintf("lib%d", l), classes)...)}, base)
		libs = append(libs, id)
	}
	g.MustAdd(root, []location.Location{location.MemoryOf(fmt.Sprintf("app-%d.jar", app), names(fmt.Sprintf("app%d", app), classes)...)}, libs...)
	g.Artifacts[root].EntryPoints = []string{"load.app"}
	g.Artifacts[base].EntryPoints = []string{"load.base"}
	return g
}

func names(pkg string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s/C%d.class", pkg, i)
	}
	return out
}

type timings struct {
	mu sync.Mutex
	by map[string][]time.Duration
}

func (t *timings) observe(op string, start time.Time) {
	d := time.Since(start)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.by[op] = append(t.by[op], d)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	var apps int
	var width int
	var classes int
	var concurrency int
	var rounds int

	flag.IntVar(&apps, "apps", 50, "Number of distinct applications")
	flag.IntVar(&width, "width", 8, "Shared libraries per application")
	flag.IntVar(&classes, "classes", 200, "Classes per artifact")
	flag.IntVar(&concurrency, "concurrency", 16, "Concurrent application lifecycles")
	flag.IntVar(&rounds, "rounds", 3, "Attach/start/stop/detach rounds per application")
	flag.Parse()

	var (
		hookMu     sync.Mutex
		baseStarts int
		baseStops  int
	)
	k := kernel.New(
		kernel.WithSystem(environment.NewSystem(environment.WithProperties(map[string]string{}))),
		kernel.WithEntryPoint("load.app", lifecycle.EntryPointFuncs{}),
		kernel.WithEntryPoint("load.base", lifecycle.EntryPointFuncs{
			StartFunc: func(context.Context) error {
				hookMu.Lock()
				defer hookMu.Unlock()
				baseStarts++
				return nil
			},
			StopFunc: func(context.Context) error {
				hookMu.Lock()
				defer hookMu.Unlock()
				baseStops++
				return nil
			},
		}),
	)

	ctx := context.Background()
	t := &timings{by: map[string][]time.Duration{}}
	begin := time.Now()

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i := 0; i < apps; i++ {
		eg.Go(func() error {
			g := syntheticGraph(i, width, classes)
			for r := 0; r < rounds; r++ {
				start := time.Now()
				cfg, err := k.Compile(egctx, g, nil)
				if err != nil {
					return err
				}
				t.observe("compile", start)

				start = time.Now()
				id, err := k.Attach(egctx, cfg)
				if err != nil {
					return err
				}
				t.observe("attach", start)

				start = time.Now()
				if err := k.Start(egctx, id); err != nil {
					return err
				}
				t.observe("start", start)

				start = time.Now()
				if _, err := k.Resolve(egctx, id, fmt.Sprintf("base.C%d", r%classes)); err != nil {
					return err
				}
				t.observe("resolve", start)

				start = time.Now()
				if err := k.Stop(egctx, id); err != nil {
					return err
				}
				if err := k.Detach(egctx, id); err != nil {
					return err
				}
				t.observe("stop+detach", start)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Fatalf("load test failed: %v", err)
	}
	total := time.Since(begin)
	if err := k.Close(ctx); err != nil {
		log.Fatalf("close: %v", err)
	}

	fmt.Printf("%d apps x %d rounds (width %d, %d classes per artifact) in %v\n", apps, rounds, width, classes, total)
	ops := make([]string, 0, len(t.by))
	for op := range t.by {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		d := t.by[op]
		sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
		fmt.Printf("%-12s n=%-6d p50=%-10v p90=%-10v p99=%-10v max=%v\n", op, len(d), percentile(d, 0.5), percentile(d, 0.9), percentile(d, 0.99), d[len(d)-1])
	}
	fmt.Printf("shared base started %d times, stopped %d times\n", baseStarts, baseStops)
}
