package enginerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusBadRequest, KindFatal},
		{http.StatusUnauthorized, KindFatal},
		{http.StatusNotFound, KindFatal},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			if got := KindForStatus(tt.status); got != tt.want {
				t.Errorf("KindForStatus(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed rate limit", NewRateLimit("llm", "slow down", time.Second), KindRateLimited},
		{"typed auth", NewAuthentication("llm", "bad key"), KindFatal},
		{"typed unavailable", NewUnavailable("llm", "overloaded"), KindTransient},
		{"wrapped typed", fmt.Errorf("call: %w", NewTimeout("llm", "deadline")), KindTransient},
		{"context deadline", context.DeadlineExceeded, KindTransient},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransient},
		{"plain error", errors.New("boom"), KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !NewTimeout("e", "t").Retryable() {
		t.Error("timeout should be retryable")
	}
	if !NewRateLimit("e", "r", 0).Retryable() {
		t.Error("rate limit should be retryable")
	}
	if NewInvalidRequest("e", "bad").Retryable() {
		t.Error("invalid request should not be retryable")
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewRateLimit("e", "r", 5*time.Second))
	if got := RetryAfterHint(err); got != 5*time.Second {
		t.Errorf("RetryAfterHint() = %v, want 5s", got)
	}
	if got := RetryAfterHint(errors.New("plain")); got != 0 {
		t.Errorf("RetryAfterHint(plain) = %v, want 0", got)
	}
}

func TestErrorString(t *testing.T) {
	e := FromStatus("rag-retrieval", http.StatusBadGateway, "upstream hiccup")
	want := "[transient] upstream hiccup (engine=rag-retrieval, code=502)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}
