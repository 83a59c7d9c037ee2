package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/respcache/internal/config"
	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/httpcache"
	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/metrics"
	"github.com/Sternrassler/respcache/pkg/redisconn"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the caching reverse proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("server")
	logger.Info().Str("config", cfg.String()).Msg("Starting respcache")

	client, err := redisconn.Connect(ctx, cfg.Redis(), logging.NewLogger("redis"))
	if errors.Is(err, redisconn.ErrUnreachable) {
		// Requests are served uncached until Redis comes back.
		logger.Warn().Err(err).Msg("Redis unreachable, starting degraded")
	} else if err != nil {
		client.Close()
		return err
	}
	defer client.Close()

	engine, err := cache.New(cfg.Engine(client), cache.WithLogger(logging.NewLogger("cache-engine")))
	if err != nil {
		return fmt.Errorf("create cache engine: %w", err)
	}
	defer engine.Close()

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("parse upstream url: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newHandler(engine, upstream, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("upstream", upstream.String()).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newHandler builds the full route table.
func newHandler(engine *cache.Engine, upstream *url.URL, cfg *config.Config) http.Handler {
	api := httpcache.InvalidateOnSuccess(engine)(
		httpcache.Middleware(engine,
			httpcache.WithTTL(cfg.CacheTTL),
			httpcache.WithPathTTL("/api/items/", cfg.CacheListTTL),
			httpcache.WithStaleWhileRevalidate(cfg.CacheSWR),
			httpcache.WithLogger(logging.NewLogger("httpcache")),
		)(newProxy(upstream)),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(engine.Store()))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /admin/cache/bump/{class}", bumpHandler(engine))
	mux.HandleFunc("POST /admin/cache/invalidate", invalidateHandler(engine))
	mux.HandleFunc("POST /admin/cache/flush", flushHandler(engine))
	mux.Handle("/api/", api)

	return requestID(accessLog(mux))
}

func newProxy(upstream *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logging.FromContext(r.Context()).Error().Err(err).
			Str("path", r.URL.Path).
			Msg("Upstream request failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
	}
	return proxy
}
