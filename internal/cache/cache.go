// Package cache avoids recomputation for repeated queries within a TTL
// window. The store is policy-free about text semantics: query
// normalization happens in the router before keys are derived here.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/pulsedash/enginemux/pkg/engine"
)

// Store is the byte-level cache backend contract. A nil value with a nil
// error signals a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Stats() Stats
	Flush(ctx context.Context) error
	Close() error
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	HitRate float64 `json:"hit_rate"`
}

// Key derives the cache key for a normalized query against one engine.
// FNV-1a keeps keys short and stable without a crypto dependency.
func Key(normalizedQuery string, id engine.ID) string {
	var h uint64 = 14695981039346656037 // FNV offset basis
	hash := func(s string) {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= 1099511628211 // FNV prime
		}
	}
	hash(normalizedQuery)
	hash("\x00")
	hash(string(id))
	return fmt.Sprintf("enginemux:%x", h)
}

// Manager is the typed layer over a byte Store: it derives keys and
// serializes engine responses.
type Manager struct {
	store Store
	ttl   atomic.Int64 // nanoseconds; atomic for hot reload
}

// NewManager wraps a Store with the configured response TTL.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	m := &Manager{store: store}
	m.ttl.Store(int64(ttl))
	return m
}

// Lookup returns the cached response for (query, engine), or ok=false on
// a miss. Expired entries are treated as misses by the backend.
func (m *Manager) Lookup(ctx context.Context, normalizedQuery string, id engine.ID) (*engine.Response, bool) {
	data, err := m.store.Get(ctx, Key(normalizedQuery, id))
	if err != nil || data == nil {
		return nil, false
	}
	var resp engine.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// Store caches a response for (query, engine), overwriting any existing
// entry for the same key. Serialization or backend failures are dropped;
// caching is best-effort.
func (m *Manager) Store(ctx context.Context, normalizedQuery string, id engine.ID, resp *engine.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = m.store.Set(ctx, Key(normalizedQuery, id), data, time.Duration(m.ttl.Load()))
}

// SetTTL updates the response TTL at runtime.
func (m *Manager) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		m.ttl.Store(int64(ttl))
	}
}

// Stats reports the backend's counters.
func (m *Manager) Stats() Stats {
	return m.store.Stats()
}

// Flush drops every cached response.
func (m *Manager) Flush(ctx context.Context) error {
	return m.store.Flush(ctx)
}

// Close releases backend resources.
func (m *Manager) Close() error {
	return m.store.Close()
}
