// Package metrics exposes Prometheus collectors for store operations. The
// collectors register with the default registry so embedding hosts can
// surface them however they expose metrics; this package does no exposition
// of its own.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coffer",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"collection", "op"},
	)

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coffer",
			Name:      "operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"collection", "op", "status"},
	)

	openAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coffer",
			Name:      "open_attempts_total",
			Help:      "Total number of store open attempts",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(operationDuration)
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(openAttemptsTotal)
}

// ObserveOperation records one accessor primitive call.
func ObserveOperation(collection, op string, ok bool, elapsed time.Duration) {
	operationDuration.WithLabelValues(collection, op).Observe(elapsed.Seconds())
	operationsTotal.WithLabelValues(collection, op, statusLabel(ok)).Inc()
}

// ObserveOpen records one attempt to open the store file.
func ObserveOpen(ok bool) {
	openAttemptsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
