package cache

import (
	"context"
	"fmt"

	"github.com/Sternrassler/respcache/pkg/resource"
	"github.com/Sternrassler/respcache/pkg/version"
	"golang.org/x/sync/errgroup"
)

// BumpVersion invalidates every cached response of class by incrementing its
// version counter. Old entries are left to expire on their own.
//
// It returns the new version and true on success. Failures are logged and
// reported as (0, false); callers must not fail a write because of them.
func (e *Engine) BumpVersion(ctx context.Context, class resource.Class) (int64, bool) {
	v, err := e.versions.Increment(ctx, class)
	if err != nil {
		Invalidations.WithLabelValues("bump", "error").Inc()
		e.logger.Warn().Err(err).Str("class", string(class)).Msg("Version bump failed")
		return 0, false
	}

	// Make the bump visible to this process without waiting for the memo to expire
	e.memo.Set(class, v)

	Invalidations.WithLabelValues("bump", "ok").Inc()
	e.logger.Info().Str("class", string(class)).Int64("version", v).Msg("Cache version bumped")
	return v, true
}

// BumpPath bumps the class that path resolves to.
func (e *Engine) BumpPath(ctx context.Context, path string) (int64, bool) {
	return e.BumpVersion(ctx, e.resolver.Resolve(path))
}

// InvalidateByPattern deletes every cached key matching the glob pattern and
// returns how many were removed. Keys are collected with SCAN in batches and
// removed with a single DEL.
//
// Version bumps are the primary invalidation mechanism; this is meant for
// administration and cleanup of legacy keys.
func (e *Engine) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, fmt.Errorf("invalidation pattern is required")
	}

	keys, err := e.store.Scan(ctx, pattern, DefaultScanBatch)
	if err != nil {
		Invalidations.WithLabelValues("pattern", "error").Inc()
		return 0, fmt.Errorf("scan %q: %w", pattern, err)
	}

	n, err := e.store.Delete(ctx, keys...)
	if err != nil {
		Invalidations.WithLabelValues("pattern", "error").Inc()
		return 0, fmt.Errorf("delete %q: %w", pattern, err)
	}

	Invalidations.WithLabelValues("pattern", "ok").Inc()
	e.logger.Info().Str("pattern", pattern).Int64("deleted", n).Msg("Cache keys invalidated by pattern")
	return int(n), nil
}

// FlushAll removes every cached body and version counter, resets every known
// class to the initial version and clears all process-local state. Pending
// coalesced waiters are released and compute their own response.
func (e *Engine) FlushAll(ctx context.Context) error {
	if err := e.store.Flush(ctx); err != nil {
		Invalidations.WithLabelValues("flush", "error").Inc()
		return fmt.Errorf("flush cache: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, class := range e.resolver.Classes() {
		g.Go(func() error {
			return e.versions.Set(gctx, class, version.Initial)
		})
	}
	err := g.Wait()

	e.memo.Reset()
	e.coalescer.Reset()

	if err != nil {
		Invalidations.WithLabelValues("flush", "error").Inc()
		return fmt.Errorf("reset versions: %w", err)
	}

	Invalidations.WithLabelValues("flush", "ok").Inc()
	e.logger.Info().Int("classes", len(e.resolver.Classes())).Msg("Cache flushed")
	return nil
}
