// Package enginerr defines unified error types for engine invocations.
// All engine-specific failures are mapped to these standard kinds so the
// retry and circuit breaker layers can act on them without knowing which
// backend produced them.
package enginerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind classifies a failure for retry and fallback decisions.
type Kind int

const (
	// KindTransient covers timeouts, 5xx responses, and connection
	// errors. Retry-eligible.
	KindTransient Kind = iota
	// KindRateLimited covers 429 responses. Retry-eligible with
	// mandatory backoff honoring server hints.
	KindRateLimited
	// KindFatal covers 4xx (other than 429), malformed requests, and
	// auth failures. Never retried.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a standardized engine invocation failure. It carries everything
// the retry handler, circuit breaker, and response builders need.
type Error struct {
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Kind       Kind      `json:"-"`
	Engine     string    `json:"engine"`
	// RetryAfter is the server-supplied backoff hint for rate limit
	// errors; zero when the server sent none.
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s (engine=%s, code=%d)", e.Kind, e.Message, e.Engine, e.StatusCode)
}

// Retryable reports whether the failure is eligible for retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// NewTimeout creates a transient timeout error (408).
func NewTimeout(engine, message string) *Error {
	return &Error{StatusCode: http.StatusRequestTimeout, Message: message, Kind: KindTransient, Engine: engine}
}

// NewUnavailable creates a transient service unavailable error (503).
func NewUnavailable(engine, message string) *Error {
	return &Error{StatusCode: http.StatusServiceUnavailable, Message: message, Kind: KindTransient, Engine: engine}
}

// NewRateLimit creates a rate limit error (429) with an optional
// server-supplied retry-after hint.
func NewRateLimit(engine, message string, retryAfter time.Duration) *Error {
	return &Error{StatusCode: http.StatusTooManyRequests, Message: message, Kind: KindRateLimited, Engine: engine, RetryAfter: retryAfter}
}

// NewInvalidRequest creates a fatal bad request error (400).
func NewInvalidRequest(engine, message string) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Message: message, Kind: KindFatal, Engine: engine}
}

// NewAuthentication creates a fatal authentication error (401).
func NewAuthentication(engine, message string) *Error {
	return &Error{StatusCode: http.StatusUnauthorized, Message: message, Kind: KindFatal, Engine: engine}
}

// NewInternal creates a transient upstream internal error (500).
func NewInternal(engine, message string) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Message: message, Kind: KindTransient, Engine: engine}
}

// KindForStatus maps an HTTP status code to an error kind.
// 429 is rate limited; other 4xx are fatal client errors; everything at
// 500 and above, plus 408, is transient.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout:
		return KindTransient
	case status >= 400 && status < 500:
		return KindFatal
	default:
		return KindTransient
	}
}

// FromStatus builds an Error for an engine from a raw HTTP status.
func FromStatus(engine string, status int, message string) *Error {
	return &Error{StatusCode: status, Message: message, Kind: KindForStatus(status), Engine: engine}
}

// Classify determines the Kind for an arbitrary error. Typed *Error values
// keep their own kind; context deadline expiry and network errors are
// transient; anything unrecognized is fatal so unknown failure modes are
// never retried blindly.
func Classify(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindFatal
}

// RetryAfterHint extracts the server-supplied backoff hint from an error
// chain, or zero when none is present.
func RetryAfterHint(err error) time.Duration {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.RetryAfter
	}
	return 0
}
