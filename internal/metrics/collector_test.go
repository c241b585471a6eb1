package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulsedash/enginemux/pkg/engine"
)

func TestCollector_RecordAndSnapshot(t *testing.T) {
	c := NewCollector()

	c.Record("primary-llm", 100*time.Millisecond, OutcomeSuccess)
	c.Record("primary-llm", 200*time.Millisecond, OutcomeFailure)
	c.Record("primary-llm", time.Millisecond, OutcomeCacheHit)
	c.Record("rag-retrieval", 50*time.Millisecond, OutcomeSuccess)
	c.RecordFallback()
	c.RecordCircuitRejection("primary-llm")
	c.RecordCircuitRejection("rag-retrieval")

	snap := c.Snapshot()

	primary := snap.Engines["primary-llm"]
	assert.Equal(t, int64(3), primary.Requests)
	assert.Equal(t, int64(1), primary.Successes)
	assert.Equal(t, int64(1), primary.Failures)
	assert.Equal(t, int64(1), primary.CacheHits)
	assert.Equal(t, 301*time.Millisecond, primary.TotalLatency)

	assert.Equal(t, int64(4), snap.Router.Requests)
	assert.Equal(t, int64(2), snap.Router.Successes)
	assert.Equal(t, int64(1), snap.Router.FallbackActivations)
	assert.Equal(t, int64(2), snap.Router.CircuitOpenRejections)
}

func TestEngineMetrics_AvgLatency(t *testing.T) {
	m := EngineMetrics{Requests: 4, TotalLatency: 200 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, m.AvgLatency())
	assert.Zero(t, EngineMetrics{}.AvgLatency())
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector()
	c.Record("e", time.Millisecond, OutcomeSuccess)
	c.RecordFallback()

	c.Reset()

	snap := c.Snapshot()
	assert.Empty(t, snap.Engines)
	assert.Zero(t, snap.Router.Requests)
	assert.Zero(t, snap.Router.FallbackActivations)
}

func TestCollector_ConcurrentWritesAndSnapshots(t *testing.T) {
	c := NewCollector()
	engines := []engine.ID{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Record(engines[(n+j)%len(engines)], time.Microsecond, OutcomeSuccess)
			}
		}(i)
	}
	// Snapshots run concurrently with the writers.
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(20*200), snap.Router.Requests)
}
