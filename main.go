package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/apimachinery/pkg/types"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	enclavev1alpha1 "github.com/anvil-platform/enclave/api/v1alpha1"
	"github.com/anvil-platform/enclave/internal/environment"
	"github.com/anvil-platform/enclave/kernel"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var graphFiles string
	var manifestFiles string
	var metricsAddr string
	var healthAddr string
	var concurrency int

	flag.StringVar(&graphFiles, "graph", "", "Comma separated YAML files holding ArtifactGraph documents.")
	flag.StringVar(&manifestFiles, "manifests", "", "Comma separated YAML files holding ComponentManifest documents.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric and healthz endpoints bind to.")
	flag.StringVar(&healthAddr, "health-bind-address", ":8081", "The address the gRPC health service binds to.")
	flag.IntVar(&concurrency, "compile-concurrency", 8, "Artifacts enumerated concurrently per compilation.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	logger := zap.New(zap.UseFlagOptions(&opts))
	ctrl.SetLogger(logger)
	ctx := log.IntoContext(ctrl.SetupSignalHandler(), logger)

	docs, err := enclavev1alpha1.LoadFiles(splitList(graphFiles, manifestFiles)...)
	if err != nil {
		setupLog.Error(err, "unable to load documents")
		os.Exit(1)
	}

	system := environment.NewSystem(environment.WithLogger(logger.WithName("environment")))
	k := kernel.New(
		kernel.WithSystem(system),
		kernel.WithCompilerConcurrency(concurrency),
	)
	registerBuiltins(k.Registry())

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", healthAddr)
	if err != nil {
		setupLog.Error(err, "unable to listen", "address", healthAddr)
		os.Exit(1)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			setupLog.Error(err, "grpc health server stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz/", http.StripPrefix("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}))
	mux.Handle("/readyz/", http.StripPrefix("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{"manifests": readyCheck(healthServer)}}))
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			setupLog.Error(err, "metrics server stopped")
		}
	}()

	var applyErrs []error
	for i := range docs.Manifests {
		m := &docs.Manifests[i]
		name := types.NamespacedName{Namespace: m.Namespace, Name: m.Name}.String()
		ag, _ := docs.Graph(m.Spec.GraphRef.Name)
		if err := k.Apply(ctx, ag, m); err != nil {
			setupLog.Error(err, "unable to apply manifest", "manifest", name, "phase", m.Status.Phase)
			applyErrs = append(applyErrs, err)
			healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
			continue
		}
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if m.Status.Phase == enclavev1alpha1.PhaseRunning {
			status = healthpb.HealthCheckResponse_SERVING
		}
		healthServer.SetServingStatus(name, status)
	}
	if err := utilerrors.NewAggregate(applyErrs); err != nil {
		setupLog.Info("some manifests failed to apply", "failed", len(applyErrs), "total", len(docs.Manifests))
	} else {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	setupLog.Info("enclave running", "manifests", len(docs.Manifests), "graphs", len(docs.Graphs), "attachments", len(k.Attachments()))
	<-ctx.Done()

	setupLog.Info("shutting down")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(log.IntoContext(context.Background(), logger), 30*time.Second)
	defer cancel()
	if err := k.Close(shutdownCtx); err != nil {
		setupLog.Error(err, "kernel close")
	}
	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "metrics server shutdown")
	}
}

// splitList flattens comma separated file lists, dropping duplicates.
func splitList(values ...string) []string {
	seen := sets.New[string]()
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" && !seen.Has(p) {
				seen.Insert(p)
				out = append(out, p)
			}
		}
	}
	return out
}

func readyCheck(h *health.Server) healthz.Checker {
	return func(req *http.Request) error {
		resp, err := h.Check(req.Context(), &healthpb.HealthCheckRequest{})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return errors.New("not every manifest is running")
		}
		return nil
	}
}
