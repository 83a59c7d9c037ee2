// Package cache provides versioned response caching with a Redis backend.
//
// The engine sits between a request handler and its downstream computation:
//
// - Cache keys embed a per-class version counter (see package version)
// - Invalidation bumps the counter; old entries expire on their own
// - Concurrent misses on one key run the downstream handler once per process
// - Error envelopes and malformed pages are never stored
// - Redis failures degrade to uncached serving, never to request errors
// - Optional stale-while-revalidate with background refresh
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create engine
//	cfg := cache.DefaultConfig()
//	cfg.Redis = redisClient
//	engine, err := cache.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	// Fetch through the cache
//	req := cache.Request{Method: "GET", Path: "/api/items/", Query: r.URL.Query()}
//	res, err := engine.Fetch(ctx, req, 0, func(ctx context.Context) ([]byte, error) {
//		return loadItems(ctx)
//	})
//	w.Header().Set("X-Cache", res.Indicator())
//
// # Invalidation
//
//	// After a successful write to /api/items
//	engine.BumpVersion(ctx, resource.Items)
//
//	// Administrative cleanup
//	n, err := engine.InvalidateByPattern(ctx, "*:/api/items/*")
//
//	// Drop everything and reset every counter to 1
//	err := engine.FlushAll(ctx)
//
// # Key Format
//
//	v{version}:{METHOD}:{path}[?k1=v1&k2=v2]
//
// Query parameters are sorted by name. The stale-while-revalidate copy of a key
// lives under the same key with a ":stale" suffix.
//
// # Metrics
//
// The engine exports Prometheus metrics:
//
//   - respcache_requests_total{status} - Served requests by outcome
//   - respcache_store_errors_total{operation} - Backing store errors
//   - respcache_background_tasks_total{kind,result} - Background writes and refreshes
//   - respcache_coalescer_pending - Keys currently computed by a leader
//   - respcache_coalescer_timeouts_total - Waiters that gave up on their leader
//   - respcache_invalidations_total{kind,result} - Bumps, pattern deletes and flushes
//   - respcache_downstream_duration_seconds - Handler duration on misses
package cache
