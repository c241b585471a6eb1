// Package main is the entry point for the EngineMux gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/pulsedash/enginemux"
	"github.com/pulsedash/enginemux/internal/breaker"
	"github.com/pulsedash/enginemux/internal/budget"
	"github.com/pulsedash/enginemux/internal/config"
	"github.com/pulsedash/enginemux/internal/ratelimit"
	"github.com/pulsedash/enginemux/internal/retry"
	"github.com/pulsedash/enginemux/pkg/engine"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfgManager, err := config.NewManager(*configPath, bootstrap)
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting EngineMux gateway", "version", enginemux.Version)

	router, err := buildRouter(cfg, logger)
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}
	defer router.Close()

	// Hot reload fans out to every service holding tunable state.
	cfgManager.OnChange(func(c *config.Config) {
		router.Breakers().UpdateConfig(breakerConfig(c))
		router.Budget().UpdateConfig(budget.Config{
			DailyTokenLimit: c.Budget.DailyTokenLimit,
			UserTokenLimit:  c.Budget.UserTokenLimit,
		})
		router.Retry().UpdateConfig(retryConfig(c))
		if cache := router.Cache(); cache != nil {
			cache.SetTTL(c.Cache.TTL)
		}
		logger.Info("runtime configuration updated")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	handler := newHandler(router, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", handler.health)
	mux.HandleFunc("GET /health/ready", handler.health)
	mux.HandleFunc("POST /v1/query", handler.query)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	// Admin routes live behind a bearer token and are registered only
	// when enabled; they are never reachable without the token.
	if cfg.Admin.Enabled {
		admin := http.NewServeMux()
		admin.HandleFunc("GET /admin/usage", handler.adminUsage)
		admin.HandleFunc("GET /admin/breakers", handler.adminBreakers)
		admin.HandleFunc("GET /admin/cache", handler.adminCache)
		admin.HandleFunc("GET /admin/metrics", handler.adminMetrics)
		admin.HandleFunc("POST /admin/reset", handler.adminReset)
		mux.Handle("/admin/", requireBearer(cfg.Admin.Token, admin))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cfgManager.Close()
	logger.Info("server stopped")
}

// buildRouter wires engines and service configs from the file config.
func buildRouter(cfg *config.Config, logger *slog.Logger) (*enginemux.Router, error) {
	opts := []enginemux.Option{
		enginemux.WithLogger(logger),
		enginemux.WithBreakerConfig(breakerConfig(cfg)),
		enginemux.WithRetryConfig(retryConfig(cfg)),
		enginemux.WithBudgetConfig(budget.Config{
			DailyTokenLimit: cfg.Budget.DailyTokenLimit,
			UserTokenLimit:  cfg.Budget.UserTokenLimit,
		}),
		enginemux.WithCacheTTL(cfg.Cache.TTL),
		enginemux.WithCacheMaxEntries(cfg.Cache.MaxEntries),
	}

	for _, e := range cfg.Engines {
		inv := engine.NewHTTPInvoker(engine.HTTPConfig{
			Name:    e.Name,
			BaseURL: e.BaseURL,
			APIKey:  e.APIKey,
			Timeout: e.Timeout,
			Headers: e.Headers,
		})
		opts = append(opts, enginemux.WithEngine(engine.ID(e.Name), inv))
		logger.Info("engine registered", "name", e.Name, "base_url", e.BaseURL)
	}

	if cfg.Cache.Backend == "redis" {
		store, err := newRedisStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		opts = append(opts, enginemux.WithCacheStore(store))
	}

	if cfg.RateLimit.Enabled {
		opts = append(opts, enginemux.WithRateLimit(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.BurstSize,
		}))
	}

	// The global provider is a noop until the embedder installs an SDK,
	// so enabling tracing without one stays harmless.
	if cfg.Tracing.Enabled {
		opts = append(opts, enginemux.WithTracer(
			otel.GetTracerProvider().Tracer(cfg.Tracing.ServiceName)))
	}

	return enginemux.New(opts...)
}

func breakerConfig(cfg *config.Config) breaker.Config {
	return breaker.Config{
		Enabled:          cfg.Breaker.Enabled,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		HalfOpenTimeout:  cfg.Breaker.HalfOpenTimeout,
	}
}

func retryConfig(cfg *config.Config) retry.Config {
	return retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Jitter:      cfg.Retry.Jitter,
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
