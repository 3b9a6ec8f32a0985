// Package metrics holds the Prometheus vectors shared across the HTTP
// layer, the manager, and the process lifecycle, so instrumentation
// doesn't force an import cycle (internal/process and internal/manager
// sit below internal/httpapi). Grounded on the teacher's
// internal/httpapi/metrics.go vector setup, generalized from an
// HTTP-only concern into the shared registry every layer of the core
// instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swapd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	HTTPInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swapd",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	swapTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapd",
			Subsystem: "core",
			Name:      "swap_total",
			Help:      "Total ProcessManager.Swap calls, labeled by outcome",
		},
		[]string{"outcome"},
	)

	swapDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swapd",
			Subsystem: "core",
			Name:      "swap_duration_seconds",
			Help:      "Duration of ProcessManager.Swap calls, labeled by outcome",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	backendState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swapd",
			Subsystem: "core",
			Name:      "backend_state",
			Help:      "1 if the labeled (model_id, group_id, state) combination is the process's current state, 0 otherwise",
		},
		[]string{"model_id", "group_id", "state"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapd",
			Subsystem: "core",
			Name:      "evictions_total",
			Help:      "Total idle-TTL evictions, labeled by model id",
		},
		[]string{"model_id"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPInflight,
		swapTotal,
		swapDuration,
		backendState,
		evictionsTotal,
	)
}

// IncrementSwapOutcome records one swap() call's outcome (e.g. "ok",
// "health_timeout", "spawn_failed").
func IncrementSwapOutcome(outcome string) {
	swapTotal.WithLabelValues(normalizeOutcome(outcome)).Inc()
}

// ObserveSwapDuration records how long one swap() call took, labeled by
// the same outcome passed to IncrementSwapOutcome.
func ObserveSwapDuration(outcome string, d time.Duration) {
	swapDuration.WithLabelValues(normalizeOutcome(outcome)).Observe(d.Seconds())
}

func normalizeOutcome(outcome string) string {
	if outcome == "" {
		return "unspecified"
	}
	return outcome
}

// SetBackendState records a process's transition from old to new: the
// old (model_id, group_id, old) combination drops to 0, the new one
// rises to 1. Grafana/Prometheus render this as the classic multi-state
// gauge (one time series per state, exactly one of them at 1).
func SetBackendState(modelID, groupID, old, new string) {
	if old != "" {
		backendState.WithLabelValues(modelID, groupID, old).Set(0)
	}
	backendState.WithLabelValues(modelID, groupID, new).Set(1)
}

// IncrementEviction records one idle-TTL eviction of modelID.
func IncrementEviction(modelID string) {
	evictionsTotal.WithLabelValues(modelID).Inc()
}
