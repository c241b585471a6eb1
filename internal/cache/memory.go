package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is an in-memory cache with TTL expiry and oldest-first
// eviction at capacity.
//
// Expiry is lazy: Get treats an entry past its deadline as a miss and
// deletes it, so correctness never depends on the background sweeper. The
// sweeper only bounds memory between reads.
type MemoryStore struct {
	mu sync.RWMutex

	data map[string]*memoryEntry
	// order holds keys in insertion order for oldest-first eviction.
	// Positions whose seq no longer matches the live entry are stale
	// (the key was overwritten) and are skipped.
	order []orderEntry
	seq   uint64

	maxEntries    int
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

type memoryEntry struct {
	value     []byte
	storedAt  time.Time
	expiresAt time.Time
	seq       uint64
}

type orderEntry struct {
	key string
	seq uint64
}

// MemoryConfig holds configuration for MemoryStore.
type MemoryConfig struct {
	MaxEntries      int           // Maximum number of entries (default: 1000)
	CleanupInterval time.Duration // Background sweep interval (default: 1 minute)
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries:      1000,
		CleanupInterval: time.Minute,
	}
}

// NewMemoryStore creates an in-memory cache store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	s := &MemoryStore{
		data:        make(map[string]*memoryEntry),
		maxEntries:  cfg.MaxEntries,
		stopCleanup: make(chan struct{}),
	}

	s.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.evictExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, key)
		}
	}
	s.compactOrder()
}

// compactOrder drops order positions whose key was deleted or
// overwritten. Caller holds s.mu.
func (s *MemoryStore) compactOrder() {
	live := s.order[:0]
	for _, oe := range s.order {
		if e, ok := s.data[oe.key]; ok && e.seq == oe.seq {
			live = append(live, oe)
		}
	}
	s.order = live
}

// evictOldest removes live entries in insertion order until the store is
// under capacity. Caller holds s.mu.
func (s *MemoryStore) evictOldest() {
	for len(s.data) >= s.maxEntries && len(s.order) > 0 {
		oe := s.order[0]
		s.order = s.order[1:]
		if e, ok := s.data[oe.key]; ok && e.seq == oe.seq {
			delete(s.data, oe.key)
		}
	}
}

// Get retrieves a value. An entry past its deadline is deleted and
// reported as a miss.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return nil, nil
	}

	if time.Now().After(e.expiresAt) {
		s.misses.Add(1)
		s.mu.Lock()
		// Re-check under the write lock; the key may have been
		// overwritten since the read.
		if cur, ok := s.data[key]; ok && cur.seq == e.seq {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return nil, nil
	}

	s.hits.Add(1)
	result := make([]byte, len(e.value))
	copy(result, e.value)
	return result, nil
}

// Set stores a value, overwriting any existing entry for the key.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && len(s.data) >= s.maxEntries {
		s.evictOldest()
	}

	s.seq++
	s.data[key] = &memoryEntry{
		value:     valueCopy,
		storedAt:  now,
		expiresAt: now.Add(ttl),
		seq:       s.seq,
	}
	s.order = append(s.order, orderEntry{key: key, seq: s.seq})

	// Bound the stale positions accumulated by repeated overwrites.
	if len(s.order) > 2*s.maxEntries {
		s.compactOrder()
	}

	s.sets.Add(1)
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Stats returns cache statistics.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	size := len(s.data)
	s.mu.RUnlock()

	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		Sets:    s.sets.Load(),
		HitRate: hitRate,
	}
}

// Flush removes all entries.
func (s *MemoryStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*memoryEntry)
	s.order = nil
	return nil
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.stopCleanup)
	})
	return nil
}
