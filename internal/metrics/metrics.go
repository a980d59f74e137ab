package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 结算引擎指标，/metrics 暴露

var (
	// Ledger
	TransactionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paysettle",
		Subsystem: "ledger",
		Name:      "transactions_created_total",
		Help:      "Transactions written to the ledger, by settlement mode and initial status",
	}, []string{"mode", "status"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paysettle",
		Subsystem: "ledger",
		Name:      "transitions_total",
		Help:      "Ledger status transitions, by target status and result (applied, noop, conflict, superseded, invalid)",
	}, []string{"status", "result"})

	// Reconciliation
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paysettle",
		Subsystem: "reconcile",
		Name:      "outcomes_total",
		Help:      "Reconciliation outcomes, by source (webhook, poll) and outcome",
	}, []string{"source", "outcome"})

	// Gateway
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paysettle",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Outbound gateway calls, by operation and result",
	}, []string{"operation", "result"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paysettle",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Outbound gateway call duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	// Outbox
	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paysettle",
		Subsystem: "outbox",
		Name:      "messages_total",
		Help:      "Outbox messages handled by the sender, by result (sent, retry, failed)",
	}, []string{"result"})

	// Jobs
	PendingReconcileSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paysettle",
		Subsystem: "job",
		Name:      "pending_reconcile_settled_total",
		Help:      "Pending transactions settled by the background reconcile job",
	})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paysettle",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status code",
	}, []string{"method", "route", "code"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paysettle",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
