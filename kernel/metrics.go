package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/anvil-platform/enclave/internal/lifecycle"
)

var (
	compileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enclave_compile_duration_seconds",
			Help:    "Time taken to compile an artifact graph into a configuration.",
			Buckets: prometheus.DefBuckets,
		},
	)
	compileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enclave_compile_total",
			Help: "Number of compilations by result.",
		},
		[]string{"result"},
	)
	configurationsCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enclave_configurations_cached",
			Help: "Number of distinct configurations held by the compiler cache.",
		},
	)

	attachmentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enclave_attachments",
			Help: "Number of attached configurations.",
		},
	)
	hookInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enclave_hook_invocations_total",
			Help: "Number of start and stop entry point invocations.",
		},
		[]string{"phase"},
	)
	hookFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enclave_hook_failures_total",
			Help: "Number of entry points that failed or panicked.",
		},
		[]string{"phase"},
	)

	workerQueueDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enclave_worker_queue_duration_seconds",
			Help:    "Time tasks spent queued before running.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
	workerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enclave_worker_task_duration_seconds",
			Help:    "Time taken to run a worker task.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
	workerTaskErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enclave_worker_task_errors_total",
			Help: "Number of worker tasks that returned an error.",
		},
		[]string{"worker"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		compileDuration,
		compileTotal,
		configurationsCached,
		attachmentsActive,
		hookInvocationsTotal,
		hookFailuresTotal,
		workerQueueDuration,
		workerTaskDuration,
		workerTaskErrorsTotal,
	)
}

func observeTask(worker string, queued, ran time.Duration, err error) {
	workerQueueDuration.WithLabelValues(worker).Observe(queued.Seconds())
	workerTaskDuration.WithLabelValues(worker).Observe(ran.Seconds())
	if err != nil {
		workerTaskErrorsTotal.WithLabelValues(worker).Inc()
	}
}

func observeHook(e lifecycle.Event) {
	hookInvocationsTotal.WithLabelValues(string(e.Phase)).Inc()
	if e.Err != nil {
		hookFailuresTotal.WithLabelValues(string(e.Phase)).Inc()
	}
}
