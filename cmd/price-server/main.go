// Command price-server exposes the KIS market-data tools over HTTP:
// tool discovery and execution, event-driven cache invalidation, health
// and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/whdghk1907/mcp-price-ranking/internal/config"
	"github.com/whdghk1907/mcp-price-ranking/pkg/batch"
	"github.com/whdghk1907/mcp-price-ranking/pkg/cache"
	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
	"github.com/whdghk1907/mcp-price-ranking/pkg/logging"
	"github.com/whdghk1907/mcp-price-ranking/pkg/ratelimit"
	"github.com/whdghk1907/mcp-price-ranking/pkg/tools"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	loc, err := time.LoadLocation(cfg.Cache.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Cache.Timezone, err)
	}
	strategy := cache.NewStrategy(loc, logging.NewLogger("cache-strategy"))

	clientCfg := kisclient.DefaultConfig(cfg.KIS.AppKey, cfg.KIS.AppSecret)
	clientCfg.BaseURL = cfg.KIS.BaseURL
	clientCfg.HTTPTimeout = cfg.HTTPTimeout()
	clientCfg.RateLimit = ratelimit.Config{
		RequestsPerInterval: cfg.RateLimit.RequestsPerSecond,
		WindowLimit:         cfg.RateLimit.WindowLimit,
		Window:              cfg.Window(),
	}
	client, err := kisclient.New(clientCfg)
	if err != nil {
		return err
	}

	fetcher := batch.NewFetcher(client, batch.Config{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		Timeout:        cfg.BatchTimeout(),
	}, logging.NewLogger("batch"))

	deps := tools.NewDeps(client, store, strategy, logging.NewLogger("tools"))
	registry := tools.NewRegistry(logging.NewLogger("registry"))
	if err := tools.RegisterDefaults(registry, deps, fetcher); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tools", listToolsHandler(registry))
	mux.HandleFunc("/tools/", executeToolHandler(registry, logger))
	mux.HandleFunc("/cache/invalidate", invalidateHandler(store, strategy))
	mux.HandleFunc("/health", healthHandler(client, store))
	mux.HandleFunc("/cache/stats", statsHandler(store))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := client.Tokens().Revoke(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Token revocation failed")
	}
	return nil
}

func newStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(logging.NewLogger("cache-memory")), nil
	default:
		return cache.NewRedisStore(cfg.Cache.RedisURL, logging.NewLogger("cache-redis"))
	}
}

func listToolsHandler(registry *tools.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tools": registry.Schemas()})
	}
}

func executeToolHandler(registry *tools.Registry, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := strings.TrimPrefix(r.URL.Path, "/tools/")
		tool := registry.Get(name)
		if tool == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown tool " + name})
			return
		}

		// An empty or absent body runs the tool with its defaults; a
		// malformed one is rejected rather than silently ignored.
		params := map[string]any{}
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body: " + err.Error()})
				return
			}
		}

		result, err := tool.Execute(r.Context(), params)
		if err != nil {
			status := errorStatus(err)
			logger.Warn().Err(err).Str("tool", name).Int("status", status).Msg("Tool execution failed")
			writeJSON(w, status, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func invalidateHandler(store cache.Store, strategy *cache.Strategy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Event string `json:"event"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "event is required"})
			return
		}

		deleted, err := cache.InvalidateEvent(r.Context(), store, strategy, req.Event)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "deleted": deleted})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"event": req.Event, "deleted": deleted})
	}
}

func healthHandler(client *kisclient.Client, store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		cacheOK := store.Ping(ctx)
		body := map[string]any{
			"cache":     cacheOK,
			"timestamp": time.Now().Format(time.RFC3339),
		}

		// A deep probe additionally exercises the upstream pipeline.
		if r.URL.Query().Get("deep") != "" {
			body["upstream"] = client.HealthCheck(ctx)
		}

		status := http.StatusOK
		if !cacheOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, body)
	}
}

func statsHandler(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func errorStatus(err error) int {
	var valErr *kisclient.ValidationError
	var rlErr *kisclient.RateLimitError
	var nfErr *kisclient.NotFoundError
	var authErr *kisclient.AuthenticationError

	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &nfErr):
		return http.StatusNotFound
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
