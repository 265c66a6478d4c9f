// Package metrics defines the Prometheus instrumentation for the engine:
// scheduler dispatch and outcome counters, node run durations, and ledger
// write accounting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the engine records into. A nil *Metrics
// is valid and records nothing, so wiring metrics stays optional.
type Metrics struct {
	NodesDispatched     prometheus.Counter
	NodeOutcomes        *prometheus.CounterVec
	NodeDuration        prometheus.Histogram
	ExecutionOutcomes   *prometheus.CounterVec
	SettleFailures      prometheus.Counter
	LedgerTransactions  *prometheus.CounterVec
	InsufficientBalance prometheus.Counter
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NodesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentgrid_nodes_dispatched_total",
			Help: "Node executions moved from QUEUED to RUNNING.",
		}),
		NodeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgrid_node_outcomes_total",
			Help: "Terminal node execution statuses.",
		}, []string{"status"}),
		NodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgrid_node_duration_seconds",
			Help:    "Wall time of block handler runs.",
			Buckets: prometheus.DefBuckets,
		}),
		ExecutionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgrid_execution_outcomes_total",
			Help: "Terminal graph execution statuses.",
		}, []string{"status"}),
		SettleFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentgrid_settle_failures_total",
			Help: "Graph executions failed by the starvation settle timeout.",
		}),
		LedgerTransactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgrid_ledger_transactions_total",
			Help: "Appended ledger transactions by type.",
		}, []string{"type"}),
		InsufficientBalance: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentgrid_ledger_insufficient_balance_total",
			Help: "Debits rejected for insufficient balance.",
		}),
	}
}

// ObserveDispatch is nil-safe.
func (m *Metrics) ObserveDispatch() {
	if m != nil {
		m.NodesDispatched.Inc()
	}
}

// ObserveNodeOutcome is nil-safe.
func (m *Metrics) ObserveNodeOutcome(status string, seconds float64) {
	if m == nil {
		return
	}
	m.NodeOutcomes.WithLabelValues(status).Inc()
	if seconds >= 0 {
		m.NodeDuration.Observe(seconds)
	}
}

// ObserveExecutionOutcome is nil-safe.
func (m *Metrics) ObserveExecutionOutcome(status string, settled bool) {
	if m == nil {
		return
	}
	m.ExecutionOutcomes.WithLabelValues(status).Inc()
	if settled {
		m.SettleFailures.Inc()
	}
}

// ObserveLedger is nil-safe.
func (m *Metrics) ObserveLedger(txType string) {
	if m != nil {
		m.LedgerTransactions.WithLabelValues(txType).Inc()
	}
}

// ObserveInsufficientBalance is nil-safe.
func (m *Metrics) ObserveInsufficientBalance() {
	if m != nil {
		m.InsufficientBalance.Inc()
	}
}
