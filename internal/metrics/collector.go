// Package metrics aggregates operational counters for the router and each
// engine. It is observe-only: nothing in here ever influences a routing
// decision.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsedash/enginemux/pkg/engine"
)

// Outcome labels one recorded request.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeCacheHit Outcome = "cache_hit"
)

// EngineMetrics is a point-in-time view of one engine's counters.
type EngineMetrics struct {
	Requests     int64         `json:"requests"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	CacheHits    int64         `json:"cache_hits"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

// AvgLatency is the mean latency across recorded requests.
func (m EngineMetrics) AvgLatency() time.Duration {
	if m.Requests == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.Requests)
}

// RouterMetrics aggregates across engines plus router-only counters.
type RouterMetrics struct {
	Requests              int64 `json:"requests"`
	Successes             int64 `json:"successes"`
	Failures              int64 `json:"failures"`
	CacheHits             int64 `json:"cache_hits"`
	FallbackActivations   int64 `json:"fallback_activations"`
	CircuitOpenRejections int64 `json:"circuit_open_rejections"`
}

// Snapshot is the full metrics view returned to operators.
type Snapshot struct {
	Engines map[engine.ID]EngineMetrics `json:"engines"`
	Router  RouterMetrics               `json:"router"`
}

// engineCounters holds one engine's live counters. All fields are
// atomics so Snapshot never blocks writers.
type engineCounters struct {
	requests     atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	cacheHits    atomic.Int64
	latencyNanos atomic.Int64
}

// Collector owns all per-engine and router-wide counters.
//
// The map itself is guarded by an RWMutex taken only to locate (or lazily
// create) an engine's counter block; the counters are lock-free, so
// independent engines never contend and snapshots run concurrently with
// writes.
type Collector struct {
	mu      sync.RWMutex
	engines map[engine.ID]*engineCounters

	fallbacks         atomic.Int64
	circuitRejections atomic.Int64
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{engines: make(map[engine.ID]*engineCounters)}
}

func (c *Collector) counters(id engine.ID) *engineCounters {
	c.mu.RLock()
	ec, ok := c.engines[id]
	c.mu.RUnlock()
	if ok {
		return ec
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ec, ok = c.engines[id]; ok {
		return ec
	}
	ec = &engineCounters{}
	c.engines[id] = ec
	return ec
}

// Record registers one completed request against an engine, mirroring it
// to the Prometheus collectors.
func (c *Collector) Record(id engine.ID, latency time.Duration, outcome Outcome) {
	ec := c.counters(id)
	ec.requests.Add(1)
	ec.latencyNanos.Add(int64(latency))

	switch outcome {
	case OutcomeSuccess:
		ec.successes.Add(1)
	case OutcomeFailure:
		ec.failures.Add(1)
	case OutcomeCacheHit:
		ec.cacheHits.Add(1)
	}

	QueriesTotal.WithLabelValues(string(id), string(outcome)).Inc()
	QueryLatency.WithLabelValues(string(id)).Observe(latency.Seconds())
}

// RecordFallback counts one fallback activation (a failed engine handed
// the query to the next candidate).
func (c *Collector) RecordFallback() {
	c.fallbacks.Add(1)
	FallbacksTotal.Inc()
}

// RecordCircuitRejection counts one engine skipped because its circuit
// was open.
func (c *Collector) RecordCircuitRejection(id engine.ID) {
	c.circuitRejections.Add(1)
	CircuitRejectionsTotal.WithLabelValues(string(id)).Inc()
}

// RecordTokens mirrors billed tokens to Prometheus.
func (c *Collector) RecordTokens(id engine.ID, tokens int) {
	if tokens > 0 {
		TokensTotal.WithLabelValues(string(id)).Add(float64(tokens))
	}
}

// Snapshot returns a point-in-time view of all counters. It never blocks
// concurrent writers; values across engines may be skewed by in-flight
// updates, which is acceptable for observability reads.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	ids := make([]engine.ID, 0, len(c.engines))
	for id := range c.engines {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	snap := Snapshot{Engines: make(map[engine.ID]EngineMetrics, len(ids))}
	for _, id := range ids {
		ec := c.counters(id)
		m := EngineMetrics{
			Requests:     ec.requests.Load(),
			Successes:    ec.successes.Load(),
			Failures:     ec.failures.Load(),
			CacheHits:    ec.cacheHits.Load(),
			TotalLatency: time.Duration(ec.latencyNanos.Load()),
		}
		snap.Engines[id] = m

		snap.Router.Requests += m.Requests
		snap.Router.Successes += m.Successes
		snap.Router.Failures += m.Failures
		snap.Router.CacheHits += m.CacheHits
	}
	snap.Router.FallbackActivations = c.fallbacks.Load()
	snap.Router.CircuitOpenRejections = c.circuitRejections.Load()
	return snap
}

// Reset zeroes the in-process counters. Prometheus series are
// monotonic by contract and are left untouched.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.engines = make(map[engine.ID]*engineCounters)
	c.mu.Unlock()
	c.fallbacks.Store(0)
	c.circuitRejections.Store(0)
}
