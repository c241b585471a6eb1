package enginemux

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pulsedash/enginemux/internal/breaker"
	"github.com/pulsedash/enginemux/internal/budget"
	"github.com/pulsedash/enginemux/internal/cache"
	"github.com/pulsedash/enginemux/internal/metrics"
	"github.com/pulsedash/enginemux/internal/ratelimit"
	"github.com/pulsedash/enginemux/internal/retry"
	"github.com/pulsedash/enginemux/pkg/engine"
	"github.com/pulsedash/enginemux/pkg/enginerr"
)

// Router dispatches queries across registered engines with circuit
// breaking, token budgets, caching, retries and fallback.
//
// A query moves through: budget check → candidate selection (circuit
// filter) → cache lookup → retry-wrapped invocation → fallback to the
// next candidate on failure. Route always returns a Result.
type Router struct {
	invokers map[engine.ID]engine.Invoker
	priority []engine.ID

	breakers *breaker.Service
	budget   *budget.Manager
	cache    *cache.Manager
	retry    *retry.Handler
	metrics  *metrics.Collector
	limiter  *ratelimit.UserLimiter

	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a Router from the given options. At least one engine must
// be registered.
func New(opts ...Option) (*Router, error) {
	cfg := defaultRouterConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Engines) == 0 {
		return nil, fmt.Errorf("enginemux: at least one engine must be registered")
	}

	r := &Router{
		invokers: make(map[engine.ID]engine.Invoker, len(cfg.Engines)),
		priority: make([]engine.ID, 0, len(cfg.Engines)),
		breakers: breaker.NewService(cfg.Breaker),
		budget:   budget.NewManager(cfg.Budget),
		retry:    retry.NewHandler(cfg.Retry),
		metrics:  metrics.NewCollector(),
		timeout:  cfg.EngineTimeout,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}

	for _, reg := range cfg.Engines {
		if reg.Invoker == nil {
			return nil, fmt.Errorf("enginemux: engine %q has no invoker", reg.ID)
		}
		if _, dup := r.invokers[reg.ID]; dup {
			return nil, fmt.Errorf("enginemux: engine %q registered twice", reg.ID)
		}
		r.invokers[reg.ID] = reg.Invoker
		r.priority = append(r.priority, reg.ID)
	}

	if cfg.CacheEnabled {
		store := cfg.CacheStore
		if store == nil {
			store = cache.NewMemoryStore(cache.MemoryConfig{
				MaxEntries: cfg.CacheMaxEntries,
			})
		}
		r.cache = cache.NewManager(store, cfg.CacheTTL)
	}

	if cfg.RateLimit.Enabled {
		r.limiter = ratelimit.NewUserLimiter(cfg.RateLimit)
	}

	return r, nil
}

// Route answers a query for userID. It never returns an error: every
// rejection path produces a structured low-confidence Result instead.
func (r *Router) Route(ctx context.Context, query, userID string, opts ...RouteOption) *Result {
	start := time.Now()
	requestID := uuid.NewString()

	var o routeOptions
	o.timeout = r.timeout
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := r.tracer.Start(ctx, "enginemux.Route",
		trace.WithAttributes(attribute.String("request.id", requestID)))
	defer span.End()

	normalized := normalizeQuery(query)

	if r.limiter != nil && !r.limiter.Allow(userID) {
		span.SetAttributes(attribute.String("route.outcome", "rate_limited"))
		r.logger.Warn("query rate limited", "request_id", requestID, "user_id", userID)
		return r.finish(start, &Result{
			Success:   false,
			Response:  "Too many requests. Please slow down and retry.",
			RequestID: requestID,
			Metadata: ResultMetadata{
				RateLimited: true,
				Reason:      "request rate limit exceeded",
			},
		})
	}

	decision := r.budget.CheckLimits(userID)
	if !decision.Allowed {
		metrics.BudgetRejectionsTotal.WithLabelValues(decision.Reason).Inc()
		span.SetAttributes(attribute.String("route.outcome", "budget_rejected"))
		r.logger.Warn("query rejected by token budget",
			"request_id", requestID,
			"user_id", userID,
			"reason", decision.Reason,
		)
		canned := r.budget.LimitExceededResponse(decision.Reason)
		return r.finish(start, &Result{
			Success:    false,
			Response:   canned.Answer,
			Confidence: canned.Confidence,
			RequestID:  requestID,
			Metadata: ResultMetadata{
				TokenLimitExceeded: true,
				Reason:             decision.Reason,
			},
		})
	}

	candidates := r.candidateList(o.candidates)
	available := make([]engine.ID, 0, len(candidates))
	for _, id := range candidates {
		if r.breakers.IsOpen(id) {
			r.metrics.RecordCircuitRejection(id)
			continue
		}
		available = append(available, id)
	}

	if len(available) == 0 {
		first := candidates[0]
		reset := secondsToReset(r.breakers.TimeToReset(first))
		span.SetAttributes(attribute.String("route.outcome", "circuit_open"))
		r.logger.Warn("all candidate engines have open circuits",
			"request_id", requestID,
			"engine", first,
			"time_to_reset_seconds", reset,
		)
		return r.finish(start, &Result{
			Success:   false,
			Response:  fmt.Sprintf("Engine %s is temporarily unavailable. Please retry shortly.", first),
			Engine:    first,
			RequestID: requestID,
			Metadata: ResultMetadata{
				CircuitOpen:        true,
				Engine:             string(first),
				TimeToResetSeconds: reset,
			},
		})
	}

	if r.cache != nil {
		if resp, ok := r.cache.Lookup(ctx, normalized, available[0]); ok {
			r.metrics.Record(available[0], time.Since(start), metrics.OutcomeCacheHit)
			span.SetAttributes(
				attribute.String("route.outcome", "cache_hit"),
				attribute.String("route.engine", string(available[0])),
			)
			return r.finish(start, &Result{
				Success:    true,
				Response:   resp.Answer,
				Engine:     available[0],
				Confidence: resp.Confidence,
				RequestID:  requestID,
				Metadata:   ResultMetadata{CacheHit: true},
			})
		}
	}

	q := engine.Query{Text: normalized, UserID: userID, RequestID: requestID}

	var lastErr error
	for i, id := range available {
		if i > 0 {
			r.metrics.RecordFallback()
		}

		attemptStart := time.Now()
		resp, err := r.invoke(ctx, id, q, o.timeout)
		if err != nil {
			lastErr = err
			r.breakers.RecordFailure(id)
			r.metrics.Record(id, time.Since(attemptStart), metrics.OutcomeFailure)
			r.logger.Warn("engine call failed",
				"request_id", requestID,
				"engine", id,
				"error", err,
			)
			continue
		}

		r.breakers.RecordSuccess(id)
		tokens := budget.EstimateTokens(resp)
		r.budget.RecordUsage(userID, tokens)
		r.metrics.RecordTokens(id, tokens)
		r.metrics.Record(id, time.Since(attemptStart), metrics.OutcomeSuccess)
		if r.cache != nil {
			r.cache.Store(ctx, normalized, id, resp)
		}

		span.SetAttributes(
			attribute.String("route.outcome", "success"),
			attribute.String("route.engine", string(id)),
			attribute.Int("route.fallbacks", i),
		)
		r.logger.Info("query answered",
			"request_id", requestID,
			"engine", id,
			"fallbacks", i,
			"tokens", tokens,
		)
		return r.finish(start, &Result{
			Success:    true,
			Response:   resp.Answer,
			Engine:     id,
			Confidence: resp.Confidence,
			RequestID:  requestID,
			Metadata:   ResultMetadata{Fallbacks: i},
		})
	}

	kind := enginerr.Classify(lastErr)
	span.SetAttributes(
		attribute.String("route.outcome", "failure"),
		attribute.String("route.error_kind", kind.String()),
	)
	r.logger.Error("all candidate engines failed",
		"request_id", requestID,
		"engines", len(available),
		"error", lastErr,
	)
	return r.finish(start, &Result{
		Success:   false,
		Response:  "All engines failed to answer this query. Please retry later.",
		RequestID: requestID,
		Metadata: ResultMetadata{
			Fallbacks: len(available) - 1,
			ErrorKind: kind.String(),
			Reason:    lastErr.Error(),
		},
	})
}

// invoke runs one engine through the retry handler. Each attempt gets a
// fresh deadline so a slow attempt cannot eat the retries' time budget.
func (r *Router) invoke(ctx context.Context, id engine.ID, q engine.Query, timeout time.Duration) (*engine.Response, error) {
	inv := r.invokers[id]
	return r.retry.Do(ctx, func(ctx context.Context) (*engine.Response, error) {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return inv.Call(callCtx, q)
	})
}

// candidateList resolves the ordered candidate engines for one query.
// Unknown IDs in a caller-supplied subset are dropped.
func (r *Router) candidateList(requested []engine.ID) []engine.ID {
	if len(requested) == 0 {
		return r.priority
	}
	out := make([]engine.ID, 0, len(requested))
	for _, id := range requested {
		if _, ok := r.invokers[id]; ok {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return r.priority
	}
	return out
}

func (r *Router) finish(start time.Time, res *Result) *Result {
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res
}

// Engines returns the registered engine IDs in priority order.
func (r *Router) Engines() []engine.ID {
	out := make([]engine.ID, len(r.priority))
	copy(out, r.priority)
	return out
}

// Breakers exposes the circuit breaker service for administrative use.
func (r *Router) Breakers() *breaker.Service { return r.breakers }

// Budget exposes the token ledger for administrative use.
func (r *Router) Budget() *budget.Manager { return r.budget }

// Cache exposes the response cache, or nil when caching is disabled.
func (r *Router) Cache() *cache.Manager { return r.cache }

// Metrics exposes the metrics collector.
func (r *Router) Metrics() *metrics.Collector { return r.metrics }

// Retry exposes the retry handler for administrative use.
func (r *Router) Retry() *retry.Handler { return r.retry }

// Close releases background resources (cache sweeper, rate limiter).
func (r *Router) Close() error {
	var err error
	if r.cache != nil {
		err = r.cache.Close()
	}
	if r.limiter != nil {
		r.limiter.Close()
	}
	return err
}

// normalizeQuery trims, lowercases and collapses internal whitespace so
// trivially different spellings share one cache key.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// secondsToReset converts a remaining duration to whole seconds,
// rounded up so a caller never retries early.
func secondsToReset(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
