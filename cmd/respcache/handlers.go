package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/logging"
)

const readyTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the cache store answers. The proxy keeps
// serving while it does not, so this is informational for load balancers.
func readyHandler(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func bumpHandler(engine *cache.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		class, err := engine.Resolver().Parse(r.PathValue("class"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		v, ok := engine.BumpVersion(r.Context(), class)
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "version store unavailable"})
			return
		}

		logging.FromContext(r.Context()).Info().
			Str("class", class.String()).
			Int64("version", v).
			Msg("Cache version bumped")
		writeJSON(w, http.StatusOK, map[string]any{"class": class, "version": v})
	}
}

func invalidateHandler(engine *cache.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pattern is required"})
			return
		}

		n, err := engine.InvalidateByPattern(r.Context(), pattern)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "deleted": n})
	}
}

func flushHandler(engine *cache.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engine.FlushAll(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		logging.FromContext(r.Context()).Warn().Msg("Cache flushed")
		writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
