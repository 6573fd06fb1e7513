package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts gateway submissions by execution kind and outcome.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_submissions_total",
			Help: "Total number of job submissions",
		},
		[]string{"kind", "outcome"},
	)

	// QuotaRejections counts admission refusals due to exhausted token budget.
	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_quota_rejections_total",
			Help: "Total number of quota-exceeded rejections",
		},
	)

	// RelayPushes counts real-time pushes by event name and delivery outcome.
	RelayPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_relay_pushes_total",
			Help: "Total number of result relay pushes",
		},
		[]string{"event", "delivered"},
	)

	// LedgerWrites counts durable result-record writes.
	LedgerWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_ledger_writes_total",
			Help: "Total number of execution ledger writes",
		},
	)

	// AuditFlushes counts batch log sink flushes by trigger.
	AuditFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_audit_flushes_total",
			Help: "Total number of audit buffer flushes",
		},
		[]string{"trigger"},
	)

	// PublishDuration tracks broker publish latency in seconds.
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conduit_publish_duration_seconds",
			Help:    "Duration of queue publishes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
)
