// Package ratelimit provides per-user request rate limiting in front of
// the token budget. Budgets bound how much a user consumes per day; the
// limiter bounds how fast they consume it.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config contains rate limiter tuning.
type Config struct {
	// Enabled gates the limiter; when false every request is allowed.
	Enabled bool
	// RequestsPerMinute is the sustained per-user rate.
	RequestsPerMinute int
	// Burst is the short-term per-user burst allowance.
	Burst int
	// CleanupTTL evicts limiters for users idle longer than this.
	CleanupTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             10,
		CleanupTTL:        10 * time.Minute,
	}
}

// UserLimiter applies a token-bucket rate limit per user ID.
//
// Idle per-user buckets are evicted by a background loop so the map does
// not grow with the lifetime user population.
type UserLimiter struct {
	mu         sync.Mutex
	cfg        Config
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewUserLimiter creates a per-user rate limiter.
func NewUserLimiter(cfg Config) *UserLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = 10 * time.Minute
	}

	l := &UserLimiter{
		cfg:        cfg,
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from userID may proceed now.
func (l *UserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	cfg := l.cfg
	if !cfg.Enabled {
		l.mu.Unlock()
		return true
	}

	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst)
		l.limiters[userID] = lim
	}
	l.lastAccess[userID] = time.Now()
	l.mu.Unlock()

	return lim.Allow()
}

// UpdateConfig swaps limiter settings. Existing buckets are rebuilt on
// next access so new rates take effect per user lazily.
func (l *UserLimiter) UpdateConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = l.cfg.RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = l.cfg.Burst
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = l.cfg.CleanupTTL
	}
	if cfg.RequestsPerMinute != l.cfg.RequestsPerMinute || cfg.Burst != l.cfg.Burst {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastAccess = make(map[string]time.Time)
	}
	l.cfg = cfg
}

// Reset drops every per-user bucket.
func (l *UserLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
	l.lastAccess = make(map[string]time.Time)
}

// Close stops the cleanup loop.
func (l *UserLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *UserLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *UserLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.cfg.CleanupTTL)
	for user, last := range l.lastAccess {
		if last.Before(cutoff) {
			delete(l.limiters, user)
			delete(l.lastAccess, user)
		}
	}
}
