package enginemux

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pulsedash/enginemux/internal/breaker"
	"github.com/pulsedash/enginemux/internal/budget"
	"github.com/pulsedash/enginemux/internal/cache"
	"github.com/pulsedash/enginemux/internal/ratelimit"
	"github.com/pulsedash/enginemux/internal/retry"
	"github.com/pulsedash/enginemux/pkg/engine"
)

// RouterConfig holds all configuration for the Router.
type RouterConfig struct {
	// Engines in static priority order. The first registered engine is
	// the preferred candidate.
	Engines []EngineRegistration

	// Resilience
	Breaker breaker.Config
	Retry   retry.Config

	// Budget
	Budget budget.Config

	// Caching
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheMaxEntries int
	CacheStore      cache.Store // custom store (overrides the memory default)

	// Per-user request rate limiting (optional)
	RateLimit ratelimit.Config

	// EngineTimeout bounds each individual engine invocation.
	EngineTimeout time.Duration

	// Logging
	Logger *slog.Logger

	// Tracing
	Tracer trace.Tracer
}

// EngineRegistration binds an engine identifier to its invoker.
type EngineRegistration struct {
	ID      engine.ID
	Invoker engine.Invoker
}

// Option is a function that configures the Router.
type Option func(*RouterConfig)

// defaultRouterConfig returns sensible defaults.
func defaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Breaker:         breaker.DefaultConfig(),
		Retry:           retry.DefaultConfig(),
		Budget:          budget.DefaultConfig(),
		CacheEnabled:    true,
		CacheTTL:        5 * time.Minute,
		CacheMaxEntries: 10_000,
		RateLimit:       ratelimit.Config{Enabled: false},
		EngineTimeout:   30 * time.Second,
		Logger:          slog.Default(),
		Tracer:          noop.NewTracerProvider().Tracer("enginemux"),
	}
}

// WithEngine registers an engine. Registration order is the static
// priority order used to build candidate lists.
func WithEngine(id engine.ID, inv engine.Invoker) Option {
	return func(c *RouterConfig) {
		c.Engines = append(c.Engines, EngineRegistration{ID: id, Invoker: inv})
	}
}

// WithBreakerConfig sets the circuit breaker configuration.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(c *RouterConfig) { c.Breaker = cfg }
}

// WithRetryConfig sets the retry and backoff configuration.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *RouterConfig) { c.Retry = cfg }
}

// WithBudgetConfig sets the token budget limits.
func WithBudgetConfig(cfg budget.Config) Option {
	return func(c *RouterConfig) { c.Budget = cfg }
}

// WithCacheTTL sets the response cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *RouterConfig) { c.CacheTTL = ttl }
}

// WithCacheMaxEntries bounds the memory cache size.
func WithCacheMaxEntries(n int) Option {
	return func(c *RouterConfig) { c.CacheMaxEntries = n }
}

// WithCacheStore supplies a custom cache backend, for example a Redis
// store shared across instances.
func WithCacheStore(store cache.Store) Option {
	return func(c *RouterConfig) { c.CacheStore = store }
}

// WithoutCache disables response caching entirely.
func WithoutCache() Option {
	return func(c *RouterConfig) { c.CacheEnabled = false }
}

// WithRateLimit enables per-user request rate limiting.
func WithRateLimit(cfg ratelimit.Config) Option {
	return func(c *RouterConfig) {
		cfg.Enabled = true
		c.RateLimit = cfg
	}
}

// WithEngineTimeout bounds each individual engine invocation. The
// deadline applies per attempt, not per query.
func WithEngineTimeout(d time.Duration) Option {
	return func(c *RouterConfig) { c.EngineTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *RouterConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithTracer sets the OpenTelemetry tracer used to span each query.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *RouterConfig) {
		if tracer != nil {
			c.Tracer = tracer
		}
	}
}

// routeOptions carries per-call overrides for Route.
type routeOptions struct {
	candidates []engine.ID
	timeout    time.Duration
}

// RouteOption customizes a single Route call.
type RouteOption func(*routeOptions)

// WithCandidates restricts the query to a caller-specified subset of
// engines, in the given order.
func WithCandidates(ids ...engine.ID) RouteOption {
	return func(o *routeOptions) { o.candidates = ids }
}

// WithTimeout overrides the per-invocation engine deadline for this call.
func WithTimeout(d time.Duration) RouteOption {
	return func(o *routeOptions) { o.timeout = d }
}
