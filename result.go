package enginemux

import (
	"github.com/pulsedash/enginemux/pkg/engine"
)

// ResultMetadata describes how a Result was produced. It is a closed
// struct rather than a free-form map so callers can rely on field
// presence; Extra carries forward-compatible debug data only.
type ResultMetadata struct {
	// CacheHit is true when the response was served from the cache
	// without invoking any engine.
	CacheHit bool `json:"cache_hit,omitempty"`

	// Fallbacks is the number of candidate engines that failed before
	// the answering engine was reached.
	Fallbacks int `json:"fallbacks,omitempty"`

	// CircuitOpen is true when the query was rejected because every
	// candidate engine's circuit was open.
	CircuitOpen bool `json:"circuit_open,omitempty"`

	// Engine names the rejected engine on a circuit-open result.
	Engine string `json:"engine,omitempty"`

	// TimeToResetSeconds estimates, rounded up, how long until the named
	// engine's circuit re-admits traffic.
	TimeToResetSeconds int `json:"time_to_reset_seconds,omitempty"`

	// TokenLimitExceeded is true when the query was rejected by the
	// token ledger before any engine was considered.
	TokenLimitExceeded bool `json:"token_limit_exceeded,omitempty"`

	// RateLimited is true when the query was rejected by the per-user
	// request rate limiter.
	RateLimited bool `json:"rate_limited,omitempty"`

	// Reason carries the human-readable rejection reason.
	Reason string `json:"reason,omitempty"`

	// ErrorKind classifies the last error on an all-engines-failed
	// result (transient, rate_limited, fatal).
	ErrorKind string `json:"error_kind,omitempty"`

	// Extra holds optional debug data. Keys and values are plain
	// strings so the struct stays serialization-stable.
	Extra map[string]string `json:"extra,omitempty"`
}

// Result is the outcome of routing one query. Route always returns a
// Result; Success=false signals degraded service, never a panic or a
// raw error surfaced to the caller.
type Result struct {
	Success          bool           `json:"success"`
	Response         string         `json:"response"`
	Engine           engine.ID      `json:"engine,omitempty"`
	Confidence       float64        `json:"confidence"`
	Metadata         ResultMetadata `json:"metadata"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	RequestID        string         `json:"request_id"`
}
