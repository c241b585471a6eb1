package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/pulsedash/enginemux/pkg/enginerr"
)

// HTTPConfig describes one HTTP-reachable engine.
type HTTPConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPInvoker calls an engine over HTTP: POST {base_url}/query with a
// JSON body, expecting a Response JSON back. Failures are mapped onto
// the enginerr taxonomy so the retry handler can classify them.
type HTTPInvoker struct {
	name    string
	url     string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

// NewHTTPInvoker creates an HTTP engine client.
func NewHTTPInvoker(cfg HTTPConfig) *HTTPInvoker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{
		name:    cfg.Name,
		url:     cfg.BaseURL + "/query",
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

type httpQueryRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

// Call implements Invoker.
func (h *HTTPInvoker) Call(ctx context.Context, q Query) (*Response, error) {
	body, err := json.Marshal(httpQueryRequest{
		Query:     q.Text,
		UserID:    q.UserID,
		RequestID: q.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, enginerr.NewTimeout(h.name, "engine call timed out")
		}
		return nil, enginerr.NewUnavailable(h.name, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, enginerr.NewRateLimit(h.name, "engine rate limited", retryAfter(resp))
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, enginerr.FromStatus(h.name, resp.StatusCode, string(snippet))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, enginerr.NewInternal(h.name, "malformed engine response: "+err.Error())
	}
	return &out, nil
}

// retryAfter parses a seconds-valued Retry-After header; zero when the
// header is absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
