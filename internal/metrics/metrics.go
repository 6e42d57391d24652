// Package metrics holds the process-wide Prometheus collectors exposed on
// /metrics (cmd/server), grounded on the teacher's promhttp.Handler wiring
// in handler.go / cmd/api/main.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditcore_consume_total",
		Help: "Count of Consume calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	PaymentsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditcore_payments_processed_total",
		Help: "Count of processPayment calls by outcome.",
	}, []string{"outcome"})

	ReconcileTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "creditcore_reconcile_tick_duration_seconds",
		Help:    "Duration of each reconciler tick, including every pending payment it touches.",
		Buckets: prometheus.DefBuckets,
	})

	ReconcilePaymentsOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditcore_reconcile_payments_total",
		Help: "Count of pending payments the reconciler resolved, by outcome.",
	}, []string{"outcome"})
)
