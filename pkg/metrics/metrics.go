package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection / session metrics
	AttachedClustersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_attached_clusters_total",
			Help: "Number of clusters with a currently attached relayer session",
		},
	)

	SessionAttachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_session_attaches_total",
			Help: "Total number of stream-attach attempts by outcome",
		},
		[]string{"outcome"},
	)

	SessionForceDetachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_session_force_detaches_total",
			Help: "Total number of sessions force-detached, by reason",
		},
		[]string{"reason"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_queue_depth",
			Help: "Current number of queued executions by cluster and priority",
		},
		[]string{"cluster_id", "priority"},
	)

	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_queue_enqueued_total",
			Help: "Total number of executions enqueued, by priority",
		},
		[]string{"priority"},
	)

	QueueDequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_queue_dequeued_total",
			Help: "Total number of executions dequeued, by priority",
		},
		[]string{"priority"},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "controlplane_dispatch_latency_seconds",
			Help:    "Time taken by a successful write of a dequeued message to its session's stream",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Execution lifecycle metrics
	ExecutionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_executions_total",
			Help: "Current number of executions by status",
		},
		[]string{"status"},
	)

	ExecutionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_execution_transitions_total",
			Help: "Total number of execution state transitions, by from and to status",
		},
		[]string{"from", "to"},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "controlplane_execution_duration_seconds",
			Help:    "Time from running to a terminal status",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Telemetry batch metrics
	TelemetryBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_telemetry_batches_total",
			Help: "Total number of telemetry batches received, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TelemetryBatchDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_telemetry_batch_dropped_total",
			Help: "Total number of telemetry batches dropped, by reason",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Agent metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_agents_total",
			Help: "Current number of agents by status",
		},
		[]string{"status"},
	)

	// Lifecycle event metrics
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_events_dropped_total",
			Help: "Total lifecycle events dropped because a subscriber fell behind, by event type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		AttachedClustersTotal,
		SessionAttachesTotal,
		SessionForceDetachesTotal,
		QueueDepth,
		QueueEnqueuedTotal,
		QueueDequeuedTotal,
		DispatchLatency,
		ExecutionsTotal,
		ExecutionTransitionsTotal,
		ExecutionDuration,
		TelemetryBatchesTotal,
		TelemetryBatchDroppedTotal,
		APIRequestsTotal,
		APIRequestDuration,
		AgentsTotal,
		EventsDroppedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
