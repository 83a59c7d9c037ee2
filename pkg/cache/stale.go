package cache

import (
	"context"
	"errors"
	"time"
)

// errNotCacheable rejects a refreshed body that must not replace the stale copy.
var errNotCacheable = errors.New("response not cacheable")

// FetchStale is Fetch with stale-while-revalidate semantics. Every computed
// body is written twice: under the primary key with ttl, and under a stale
// key living StaleWindow longer. Once the primary copy expires, the stale copy
// is served immediately and a background refresh recomputes both.
//
// FetchStale does not coalesce foreground misses. Background refreshes are
// de-duplicated per key within the process.
func (e *Engine) FetchStale(ctx context.Context, req Request, ttl time.Duration, next HandlerFunc) (*Result, error) {
	ttl = e.effectiveTTL(ttl)
	res := &Result{Class: e.resolver.Resolve(req.Path)}

	if !e.store.Available() {
		return e.serveUncached(ctx, res, next)
	}

	res.Version = e.memo.Resolve(ctx, res.Class)
	key := Key{Class: res.Class, Method: req.Method, Path: req.Path, Query: req.Query, Version: res.Version}
	res.Key = key.String()
	staleKey := key.StaleKey()

	body, err := e.store.Get(ctx, res.Key)
	switch {
	case err == nil:
		return e.served(res, body, ServedFromCache), nil
	case !errors.Is(err, ErrCacheMiss):
		e.logger.Warn().Err(err).Str("key", res.Key).Msg("Cache read failed, serving uncached")
		return e.serveUncached(ctx, res, next)
	}

	stale, err := e.store.Get(ctx, staleKey)
	switch {
	case err == nil:
		e.logger.Debug().Str("key", res.Key).Msg("Serving stale copy, refreshing in background")
		e.refresh(ctx, res.Key, staleKey, ttl, next)
		return e.served(res, stale, ServedStale), nil
	case !errors.Is(err, ErrCacheMiss):
		e.logger.Warn().Err(err).Str("key", staleKey).Msg("Stale read failed, serving uncached")
		return e.serveUncached(ctx, res, next)
	}

	body, err = e.call(ctx, next)
	if err != nil {
		return nil, err
	}
	if e.validator.IsCacheable(body) {
		e.writeAsync(ctx, e.staleEntries(res.Key, staleKey, body, ttl)...)
	}
	return e.served(res, body, ServedFresh), nil
}

// refresh recomputes key in the background. Concurrent refreshes of the same
// key share one handler call.
func (e *Engine) refresh(ctx context.Context, key, staleKey string, ttl time.Duration, next HandlerFunc) {
	e.submit(ctx, "refresh", e.cfg.RefreshTimeout, func(ctx context.Context) error {
		_, err, shared := e.refreshes.Do(key, func() (any, error) {
			body, err := e.call(ctx, next)
			if err != nil {
				return nil, err
			}
			if !e.validator.IsCacheable(body) {
				return nil, errNotCacheable
			}
			for _, en := range e.staleEntries(key, staleKey, body, ttl) {
				if err := e.store.Set(ctx, en.key, en.body, en.ttl); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		if err != nil && !shared {
			e.logger.Warn().Err(err).Str("key", key).Msg("Background refresh failed")
		}
		return err
	})
}

func (e *Engine) staleEntries(key, staleKey string, body []byte, ttl time.Duration) []entry {
	return []entry{
		{key: key, body: body, ttl: ttl},
		{key: staleKey, body: body, ttl: ttl + e.cfg.StaleWindow},
	}
}
