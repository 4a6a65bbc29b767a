package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger kernel.
type Metrics struct {
	// --- Execution core ---
	ExecutesApplied    prometheus.Counter
	ExecutesRejected   *prometheus.CounterVec
	ExecutesDuplicate  prometheus.Counter
	StaleStateWarnings prometheus.Counter
	Sequence           prometheus.Gauge
	LogLength          prometheus.Gauge

	// --- Lifecycle ---
	CascadePasses    prometheus.Histogram
	SchedulerPending prometheus.Gauge
	StepDuration     prometheus.Histogram

	// --- Export ---
	TransactionsPublished prometheus.Counter
	PublishErrors         prometheus.Counter
	PersistRowsWritten    prometheus.Counter
	PersistErrors         prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ExecutesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sim_ledger_executes_applied_total",
			Help: "Transactions successfully validated and applied",
		}),
		ExecutesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_ledger_executes_rejected_total",
			Help: "Transactions rejected during validation",
		}, []string{"reason"}),
		ExecutesDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sim_ledger_executes_duplicate_total",
			Help: "Executes short-circuited by intent id idempotency",
		}),
		StaleStateWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sim_ledger_stale_state_warnings_total",
			Help: "Stale-state advisories emitted in warn mode",
		}),
		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sim_ledger_next_sequence",
			Help: "Sequence number the next successful execute will claim",
		}),
		LogLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sim_ledger_log_length",
			Help: "Number of transactions in the log",
		}),
		CascadePasses: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sim_ledger_cascade_passes",
			Help:    "Passes needed to reach a fixed point within one step",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}),
		SchedulerPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sim_ledger_scheduler_pending_events",
			Help: "Events waiting in the scheduler queue",
		}),
		StepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sim_ledger_step_duration_seconds",
			Help:    "Wall time per lifecycle step",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		TransactionsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sim_ledger_transactions_published_total",
			Help: "Executed transactions published to the stream",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sim_ledger_publish_errors_total",
			Help: "Failed stream publishes",
		}),
		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sim_ledger_persist_rows_written_total",
			Help: "Transaction rows written to Postgres",
		}),
		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sim_ledger_persist_errors_total",
			Help: "Failed Postgres writes",
		}),
	}
}
