// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignis_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ignis_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	// StatementsTotal counts repository statements by entity, operation and
	// outcome.
	StatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignis_repository_statements_total",
			Help: "Total number of SQL statements issued by repositories",
		},
		[]string{"entity", "op", "status"},
	)
	// StatementDuration is the latency of successful repository statements.
	StatementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ignis_repository_statement_duration_seconds",
			Help:    "Repository statement latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "op"},
	)
	// TransactionsTotal counts finished transactions by outcome.
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignis_transactions_total",
			Help: "Total number of finished transactions",
		},
		[]string{"outcome"},
	)
)

// Statement outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Transaction outcomes.
const (
	OutcomeCommitted    = "committed"
	OutcomeRolledBack   = "rolled_back"
	OutcomeCommitFailed = "commit_failed"
)

// ObserveStatement records one successful statement.
func ObserveStatement(entity, op string, elapsed time.Duration) {
	StatementsTotal.WithLabelValues(entity, op, StatusOK).Inc()
	StatementDuration.WithLabelValues(entity, op).Observe(elapsed.Seconds())
}

// StatementFailed records one failed statement.
func StatementFailed(entity, op string) {
	StatementsTotal.WithLabelValues(entity, op, StatusError).Inc()
}

// TransactionFinished records the outcome of a transaction.
func TransactionFinished(outcome string) {
	TransactionsTotal.WithLabelValues(outcome).Inc()
}
