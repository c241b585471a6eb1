// Package retry classifies engine failures and drives a bounded retry
// sequence with exponential backoff.
//
// The handler never holds locks while sleeping: backoff waits happen in
// the calling goroutine's own select against the request context.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsedash/enginemux/pkg/engine"
	"github.com/pulsedash/enginemux/pkg/enginerr"
)

// Config contains retry tuning. Hot-reloadable via UpdateConfig.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt; subsequent
	// delays double.
	BaseBackoff time.Duration
	// MaxBackoff caps the computed delay. Zero disables the cap.
	MaxBackoff time.Duration
	// Jitter is the random spread ratio applied to each delay (0-1).
	Jitter float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Jitter:      0.2,
	}
}

// Handler executes engine calls under the configured retry policy.
//
// Handler is safe for concurrent use by multiple goroutines.
type Handler struct {
	config atomic.Value // Config

	randMu sync.Mutex
	rand   *rand.Rand

	// sleep waits for the given duration or until ctx is done.
	// Overridden in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHandler creates a retry handler with the given config.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	h.config.Store(normalize(cfg))
	h.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	return h
}

func normalize(cfg Config) Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 250 * time.Millisecond
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	return cfg
}

// UpdateConfig swaps the retry configuration at runtime.
func (h *Handler) UpdateConfig(cfg Config) {
	h.config.Store(normalize(cfg))
}

// Config returns the current configuration.
func (h *Handler) Config() Config {
	return h.config.Load().(Config)
}

// SetSleep overrides the backoff wait. Intended for tests.
func (h *Handler) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	h.sleep = sleep
}

// Classify maps an error to its retry kind.
func (h *Handler) Classify(err error) enginerr.Kind {
	return enginerr.Classify(err)
}

// ShouldRetry reports whether another attempt is warranted after a
// failure of the given kind on the given attempt (1-based).
func (h *Handler) ShouldRetry(attempt int, kind enginerr.Kind) bool {
	if kind == enginerr.KindFatal {
		return false
	}
	return attempt < h.Config().MaxAttempts
}

// NextDelay computes the backoff before the attempt following `attempt`
// (1-based): base doubled per completed attempt, capped, with jitter.
func (h *Handler) NextDelay(attempt int) time.Duration {
	cfg := h.Config()

	d := cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if cfg.MaxBackoff > 0 && d >= cfg.MaxBackoff {
			d = cfg.MaxBackoff
			break
		}
	}
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 {
		h.randMu.Lock()
		spread := 1 + cfg.Jitter*(2*h.rand.Float64()-1)
		h.randMu.Unlock()
		d = time.Duration(float64(d) * spread)
	}
	return d
}

// Do executes fn until it succeeds, a fatal error short-circuits, or
// MaxAttempts is exhausted. Rate-limited failures honor the
// server-supplied retry-after hint when it exceeds the computed backoff.
// The last classified error is returned on exhaustion.
func (h *Handler) Do(ctx context.Context, fn func(ctx context.Context) (*engine.Response, error)) (*engine.Response, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		kind := enginerr.Classify(err)
		if !h.ShouldRetry(attempt, kind) {
			return nil, lastErr
		}

		delay := h.NextDelay(attempt)
		if kind == enginerr.KindRateLimited {
			if hint := enginerr.RetryAfterHint(err); hint > delay {
				delay = hint
			}
		}

		if err := h.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}
