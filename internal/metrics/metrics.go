package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mess_http_requests_total",
			Help: "Number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mess_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mess_ledger_operations_total",
			Help: "Ledger operations by outcome",
		},
		[]string{"operation", "result"},
	)

	CreditsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mess_credits_moved_total",
			Help: "Credits added to or removed from balances",
		},
		[]string{"reason"},
	)
)

// ObserveLedger records the outcome of a ledger operation.
func ObserveLedger(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	LedgerOperations.WithLabelValues(operation, result).Inc()
}
