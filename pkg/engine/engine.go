// Package engine defines the capability contract between the router and the
// backend engines it dispatches to. An engine is anything that can answer a
// natural-language query: an LLM service, a retrieval pipeline, an NLP
// microservice. The router never knows how an engine is reached; transports
// (HTTP, SDK, subprocess) live entirely behind the Invoker interface.
package engine

import "context"

// ID names a registered backend engine, e.g. "primary-llm" or
// "rag-retrieval". IDs are assigned once at startup and are immutable for
// the process lifetime; all per-engine state (breaker records, metrics) is
// keyed by ID.
type ID string

// Query carries one normalized user query to an engine.
type Query struct {
	// Text is the normalized query text (trimmed, lowercased, whitespace
	// collapsed by the router before dispatch).
	Text string

	// UserID identifies the requesting tenant for accounting.
	UserID string

	// RequestID is the router-assigned correlation ID for this query.
	RequestID string
}

// Response is a single engine answer.
type Response struct {
	// Answer is the engine's primary response text.
	Answer string `json:"answer"`

	// Explanation is optional auxiliary text (reasoning, citations).
	// It counts toward token usage estimation.
	Explanation string `json:"explanation,omitempty"`

	// Confidence is the engine's self-reported confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// TokensUsed is the exact token count reported by the engine, or 0
	// when the engine does not report usage (the router then estimates).
	TokensUsed int `json:"tokens_used,omitempty"`
}

// Invoker executes queries against one backend engine.
//
// Call must honor ctx cancellation and deadlines; a deadline expiry is
// surfaced as ctx.Err() and treated as a transient failure upstream.
// Implementations are supplied by the embedding application and must be
// safe for concurrent use.
type Invoker interface {
	Call(ctx context.Context, q Query) (*Response, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, q Query) (*Response, error)

// Call implements Invoker.
func (f InvokerFunc) Call(ctx context.Context, q Query) (*Response, error) {
	return f(ctx, q)
}
