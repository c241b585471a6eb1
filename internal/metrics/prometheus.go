package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "enginemux"

// LatencyBuckets defines histogram buckets for query latency in seconds.
// Engine calls span sub-millisecond cache hits to multi-second LLM
// completions.
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 20.0, 30.0, 60.0,
}

var (
	// QueriesTotal counts routed queries by engine and outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total queries routed, by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	// QueryLatency tracks end-to-end per-engine query latency.
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "Query latency in seconds, by engine",
			Buckets:   LatencyBuckets,
		},
		[]string{"engine"},
	)

	// FallbacksTotal counts fallback activations across all engines.
	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total fallback activations (query handed to the next candidate engine)",
		},
	)

	// CircuitRejectionsTotal counts engines skipped due to an open circuit.
	CircuitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_rejections_total",
			Help:      "Engines skipped because their circuit breaker was open",
		},
		[]string{"engine"},
	)

	// TokensTotal counts billed tokens by engine.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens billed against the usage ledger, by engine",
		},
		[]string{"engine"},
	)

	// BudgetRejectionsTotal counts queries denied by the token ledger.
	BudgetRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_rejections_total",
			Help:      "Queries rejected by the token budget, by reason",
		},
		[]string{"reason"},
	)
)
