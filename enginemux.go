// Package enginemux routes AI queries across multiple backend engines
// with circuit breaking, token budgets, response caching, retry with
// exponential backoff, and automatic fallback.
//
// EngineMux can be used in two modes:
//   - Library Mode: import and use the Router directly
//   - Gateway Mode: run cmd/enginemuxd as a standalone HTTP service
//
// Basic usage:
//
//	router, err := enginemux.New(
//	    enginemux.WithEngine("atlas", atlasInvoker),
//	    enginemux.WithEngine("borealis", borealisInvoker),
//	    enginemux.WithBudgetConfig(budget.Config{
//	        DailyTokenLimit: 500_000,
//	        UserTokenLimit:  25_000,
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer router.Close()
//
//	result := router.Route(ctx, "explain raft leader election", "user-42")
//	if !result.Success {
//	    // result.Metadata says why: budget, open circuit, or all engines failed
//	}
package enginemux

import (
	"github.com/pulsedash/enginemux/internal/breaker"
	"github.com/pulsedash/enginemux/internal/budget"
	"github.com/pulsedash/enginemux/internal/cache"
	"github.com/pulsedash/enginemux/internal/metrics"
	"github.com/pulsedash/enginemux/internal/retry"
	"github.com/pulsedash/enginemux/pkg/engine"
	"github.com/pulsedash/enginemux/pkg/enginerr"
)

// Version is the current version of EngineMux.
const Version = "1.0.0"

// Re-export engine capability types for convenience.
// Callers can use enginemux.Query instead of engine.Query.
type (
	// EngineID identifies one registered backend engine.
	EngineID = engine.ID

	// Query is the unit of work handed to an engine.
	Query = engine.Query

	// Response is an engine's answer to a query.
	Response = engine.Response

	// Invoker is the capability interface each backend engine implements.
	Invoker = engine.Invoker

	// InvokerFunc adapts a plain function to the Invoker interface.
	InvokerFunc = engine.InvokerFunc
)

// Re-export service configuration types.
type (
	// BreakerConfig tunes the per-engine circuit breaker.
	BreakerConfig = breaker.Config

	// BreakerState is a circuit state (closed, open, half-open).
	BreakerState = breaker.State

	// BudgetConfig sets the daily and per-user token limits.
	BudgetConfig = budget.Config

	// BudgetDecision is the outcome of a token budget check.
	BudgetDecision = budget.Decision

	// RetryConfig tunes retry attempts and backoff.
	RetryConfig = retry.Config

	// CacheStats reports response cache effectiveness.
	CacheStats = cache.Stats

	// MetricsSnapshot is a point-in-time view of all counters.
	MetricsSnapshot = metrics.Snapshot

	// EngineMetrics holds one engine's monotonic counters.
	EngineMetrics = metrics.EngineMetrics
)

// Re-export circuit states.
const (
	StateClosed   = breaker.StateClosed
	StateOpen     = breaker.StateOpen
	StateHalfOpen = breaker.StateHalfOpen
)

// Re-export error taxonomy.
type (
	// EngineError is a classified failure from a backend engine.
	EngineError = enginerr.Error

	// ErrorKind partitions failures into transient, rate-limited and fatal.
	ErrorKind = enginerr.Kind
)

const (
	KindTransient   = enginerr.KindTransient
	KindRateLimited = enginerr.KindRateLimited
	KindFatal       = enginerr.KindFatal
)

// Re-export error factory functions.
var (
	NewTimeoutError        = enginerr.NewTimeout
	NewUnavailableError    = enginerr.NewUnavailable
	NewRateLimitError      = enginerr.NewRateLimit
	NewInvalidRequestError = enginerr.NewInvalidRequest
	NewAuthenticationError = enginerr.NewAuthentication
	NewInternalError       = enginerr.NewInternal
)
