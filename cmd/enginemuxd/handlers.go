package main

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/pulsedash/enginemux"
	"github.com/pulsedash/enginemux/internal/cache"
	"github.com/pulsedash/enginemux/internal/config"
	"github.com/pulsedash/enginemux/pkg/engine"
)

// handler serves the gateway HTTP API.
type handler struct {
	router *enginemux.Router
	logger *slog.Logger
}

func newHandler(router *enginemux.Router, logger *slog.Logger) *handler {
	return &handler{router: router, logger: logger}
}

type queryRequest struct {
	Query   string   `json:"query"`
	UserID  string   `json:"user_id"`
	Engines []string `json:"engines,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// query handles POST /v1/query.
func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	var opts []enginemux.RouteOption
	if len(req.Engines) > 0 {
		ids := make([]engine.ID, len(req.Engines))
		for i, name := range req.Engines {
			ids[i] = engine.ID(name)
		}
		opts = append(opts, enginemux.WithCandidates(ids...))
	}

	result := h.router.Route(r.Context(), req.Query, req.UserID, opts...)

	// Degraded service still answers 200: the result body carries the
	// structured rejection. Only transport-level problems are non-200.
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) adminUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Budget().Usage())
}

func (h *handler) adminBreakers(w http.ResponseWriter, r *http.Request) {
	states := h.router.Breakers().AllStates()
	out := make(map[string]string, len(states))
	for id, st := range states {
		out[string(id)] = st.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) adminCache(w http.ResponseWriter, r *http.Request) {
	if c := h.router.Cache(); c != nil {
		writeJSON(w, http.StatusOK, c.Stats())
		return
	}
	writeJSON(w, http.StatusOK, cache.Stats{})
}

func (h *handler) adminMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Metrics().Snapshot())
}

// adminReset clears all mutable state: breakers, ledger, cache, counters.
func (h *handler) adminReset(w http.ResponseWriter, r *http.Request) {
	h.router.Breakers().ResetAll()
	h.router.Budget().ResetAll()
	h.router.Metrics().Reset()
	if c := h.router.Cache(); c != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := c.Flush(ctx); err != nil {
			h.logger.Error("cache flush failed", "error", err)
		}
	}
	h.logger.Info("administrative reset performed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// requireBearer guards the admin mux with a constant-time token check.
func requireBearer(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newRedisStore builds the shared cache backend from config.
func newRedisStore(cfg *config.Config) (cache.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cache.NewRedisStore(ctx, cache.RedisConfig{
		Addr:      cfg.Cache.RedisAddr,
		DB:        cfg.Cache.RedisDB,
		Namespace: cfg.Cache.Namespace,
	})
}
