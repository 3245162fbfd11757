// Package metrics exposes prometheus collectors for the ledger and the RPC surface.
//
// A nil *Metrics is valid and records nothing, so components can run without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "splitledger"

// Settlement mutation kinds.
const (
	OpCreate    = "create"
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpDelete    = "delete"
	OpComplete  = "complete"
)

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	settlementMutations *prometheus.CounterVec
	casConflicts        prometheus.Counter
	retriesExhausted    prometheus.Counter
	missingReversals    prometheus.Counter
	skippedLines        prometheus.Counter
	groupTotalWarnings  prometheus.Counter
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		settlementMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlement_mutations_total",
			Help:      "Settlement writes by kind.",
		}, []string{"op"}),
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "cas_conflicts_total",
			Help:      "Compare-and-swap writes that lost a race and were retried.",
		}),
		retriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "retries_exhausted_total",
			Help:      "Settlement mutations that gave up after the maximum attempts.",
		}),
		missingReversals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "missing_reversal_targets_total",
			Help:      "Reversals whose settlement or journal line no longer existed.",
		}),
		skippedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "skipped_journal_lines_total",
			Help:      "Contributions skipped because the expense was already folded in.",
		}),
		groupTotalWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "group_total_warnings_total",
			Help:      "Group total adjustments on missing groups or producing negative totals.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPC requests by procedure and result code.",
		}, []string{"procedure", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "RPC latency by procedure.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1},
		}, []string{"procedure"}),
	}

	m.registry.MustRegister(
		m.settlementMutations,
		m.casConflicts,
		m.retriesExhausted,
		m.missingReversals,
		m.skippedLines,
		m.groupTotalWarnings,
		m.requestsTotal,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SettlementMutation(op string) {
	if m == nil {
		return
	}
	m.settlementMutations.WithLabelValues(op).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

func (m *Metrics) RetriesExhausted() {
	if m == nil {
		return
	}
	m.retriesExhausted.Inc()
}

func (m *Metrics) MissingReversal() {
	if m == nil {
		return
	}
	m.missingReversals.Inc()
}

func (m *Metrics) SkippedLine() {
	if m == nil {
		return
	}
	m.skippedLines.Inc()
}

func (m *Metrics) GroupTotalWarning() {
	if m == nil {
		return
	}
	m.groupTotalWarnings.Inc()
}

// ObserveRequest records one finished RPC.
func (m *Metrics) ObserveRequest(procedure, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(procedure, code).Inc()
	m.requestDuration.WithLabelValues(procedure).Observe(d.Seconds())
}
