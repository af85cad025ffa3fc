// Package metrics provides Prometheus instrumentation for the risk pipeline:
// cycle outcomes and latency, classification attempts, downstream record
// calls, notifications and active monitored sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts classification cycles by outcome: "dispatched",
	// "partial", "classification_failed", "validation_failed".
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_cycles_total",
		Help: "Total number of classification cycles by outcome",
	}, []string{"outcome"})

	// CycleLatency records the duration of a full cycle in seconds.
	CycleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskwatch_cycle_latency_seconds",
		Help:    "Classification cycle latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
	})

	// ClassificationAttempts counts workflow attempts by result:
	// "success", "retryable", "failed".
	ClassificationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_classification_attempts_total",
		Help: "Total number of classification attempts by result",
	}, []string{"result"})

	// DispatchCalls counts downstream record calls by record and result.
	DispatchCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_dispatch_calls_total",
		Help: "Total number of downstream record calls",
	}, []string{"record", "result"}) // result = "ok", "error"

	// Notifications counts notifier deliveries by notifier and result.
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_notifications_total",
		Help: "Total number of notifications by notifier and result",
	}, []string{"notifier", "result"}) // result = "sent", "skipped", "error"

	// ActiveSessions tracks the number of monitored sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "riskwatch_active_sessions",
		Help: "Current number of monitored chat sessions",
	})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleLatency,
		ClassificationAttempts,
		DispatchCalls,
		Notifications,
		ActiveSessions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
