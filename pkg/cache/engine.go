package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/respcache/pkg/resource"
	"github.com/Sternrassler/respcache/pkg/version"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// HandlerFunc computes a response body on a cache miss.
// Errors are returned to the caller unchanged and are never cached.
type HandlerFunc func(ctx context.Context) ([]byte, error)

// Request describes the part of an HTTP request that determines its cache key.
type Request struct {
	Method string
	Path   string
	Query  url.Values
}

// Status describes how a response was produced.
type Status int

const (
	// ServedFromCache means the body came from the backing store.
	ServedFromCache Status = iota + 1

	// ServedFresh means this caller ran the handler as leader.
	ServedFresh

	// ServedCoalesced means the body was produced by another caller's handler run.
	ServedCoalesced

	// ServedUncached means the handler ran without caching (store down, waiter timeout).
	ServedUncached

	// ServedStale means an expired copy was served while a refresh runs.
	ServedStale
)

// String returns the metric label of s.
func (s Status) String() string {
	switch s {
	case ServedFromCache:
		return "hit"
	case ServedFresh:
		return "fresh"
	case ServedCoalesced:
		return "coalesced"
	case ServedUncached:
		return "uncached"
	case ServedStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Indicator returns the diagnostic header value: HIT, MISS or STALE.
func (s Status) Indicator() string {
	switch s {
	case ServedFromCache, ServedCoalesced:
		return "HIT"
	case ServedStale:
		return "STALE"
	default:
		return "MISS"
	}
}

// Result is the outcome of a cached fetch.
type Result struct {
	Body    []byte
	Status  Status
	Key     string
	Version int64
	Class   resource.Class
}

// Indicator returns the diagnostic header value for the result.
func (r *Result) Indicator() string {
	return r.Status.Indicator()
}

// Config holds the engine configuration.
type Config struct {
	// Redis client holding version counters and cached bodies
	Redis *redis.Client

	// Default time-to-live for cached bodies
	TTL time.Duration

	// Version memo lifetime (clamped to version.MaxMemoTTL)
	MemoTTL time.Duration

	// Maximum time a waiter blocks on its leader before self-fetching
	LockTimeout time.Duration

	// Extra lifetime of the stale copy beyond TTL
	StaleWindow time.Duration

	// Background work bounds
	WriteTimeout      time.Duration
	RefreshTimeout    time.Duration
	BackgroundWorkers int
}

// DefaultConfig returns the default engine configuration. Redis must still be set.
func DefaultConfig() Config {
	return Config{
		TTL:               300 * time.Second,
		MemoTTL:           version.DefaultMemoTTL,
		LockTimeout:       DefaultLockTimeout,
		StaleWindow:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		RefreshTimeout:    30 * time.Second,
		BackgroundWorkers: 64,
	}
}

// Engine serves responses from a versioned Redis cache. Concurrent misses on
// the same key are coalesced, and invalidation works by bumping per-class
// version counters rather than deleting keys.
type Engine struct {
	cfg       Config
	resolver  *resource.Resolver
	versions  *version.Store
	memo      *version.Memo
	store     *Manager
	validator Validator
	coalescer *Coalescer
	logger    zerolog.Logger

	pool      *ants.Pool
	tasks     sync.WaitGroup
	refreshes singleflight.Group

	managerOpts []ManagerOption
	memoOpts    []version.MemoOption
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithResolver replaces resource.DefaultResolver.
func WithResolver(r *resource.Resolver) Option {
	return func(e *Engine) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithValidator replaces DefaultValidator.
func WithValidator(v Validator) Option {
	return func(e *Engine) {
		e.validator = v
	}
}

// WithManagerOptions passes options to the backing store manager.
func WithManagerOptions(opts ...ManagerOption) Option {
	return func(e *Engine) {
		e.managerOpts = append(e.managerOpts, opts...)
	}
}

// WithMemoOptions passes options to the version memo.
func WithMemoOptions(opts ...version.MemoOption) Option {
	return func(e *Engine) {
		e.memoOpts = append(e.memoOpts, opts...)
	}
}

// New creates a cache engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	defaults := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaults.LockTimeout
	}
	if cfg.StaleWindow < 0 {
		return nil, fmt.Errorf("stale window must be >= 0 (got %v)", cfg.StaleWindow)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaults.RefreshTimeout
	}
	if cfg.BackgroundWorkers <= 0 {
		cfg.BackgroundWorkers = defaults.BackgroundWorkers
	}

	e := &Engine{
		cfg:       cfg,
		resolver:  resource.DefaultResolver(),
		validator: DefaultValidator(),
		coalescer: NewCoalescer(),
		logger:    log.With().Str("component", "cache-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.versions = version.NewStore(cfg.Redis, e.logger)
	memoOpts := append([]version.MemoOption{version.WithLogger(e.logger)}, e.memoOpts...)
	e.memo = version.NewMemo(e.versions, cfg.MemoTTL, memoOpts...)
	e.store = NewManager(cfg.Redis, e.managerOpts...)

	poolLogger := e.logger
	pool, err := ants.NewPool(cfg.BackgroundWorkers,
		ants.WithNonblocking(true),
		ants.WithLogger(&poolLogger),
		ants.WithPanicHandler(func(p any) {
			e.logger.Error().Interface("panic", p).Msg("Background cache task panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create background pool: %w", err)
	}
	e.pool = pool

	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Resolver returns the resource resolver in use.
func (e *Engine) Resolver() *resource.Resolver {
	return e.resolver
}

// Store returns the backing store manager.
func (e *Engine) Store() *Manager {
	return e.store
}

// Fetch returns the body for req, from cache when possible. On a miss, one
// caller per key runs next while concurrent callers wait for its result.
//
// Errors from next are returned unchanged. Cache failures are never returned:
// the engine falls back to calling next directly.
func (e *Engine) Fetch(ctx context.Context, req Request, ttl time.Duration, next HandlerFunc) (*Result, error) {
	ttl = e.effectiveTTL(ttl)
	res := &Result{Class: e.resolver.Resolve(req.Path)}

	if !e.store.Available() {
		return e.serveUncached(ctx, res, next)
	}

	res.Version = e.memo.Resolve(ctx, res.Class)
	res.Key = BuildKey(res.Class, req.Method, req.Path, req.Query, res.Version)

	body, err := e.store.Get(ctx, res.Key)
	switch {
	case err == nil:
		e.logger.Debug().Str("key", res.Key).Msg("Cache hit")
		return e.served(res, body, ServedFromCache), nil
	case !errors.Is(err, ErrCacheMiss):
		e.logger.Warn().Err(err).Str("key", res.Key).Msg("Cache read failed, serving uncached")
		return e.serveUncached(ctx, res, next)
	}

	if lease, ok := e.coalescer.TryBecomeLeader(res.Key); ok {
		e.logger.Debug().Str("key", res.Key).Msg("Cache miss, computing as leader")
		return e.lead(ctx, lease, res, ttl, next)
	}

	e.logger.Debug().Str("key", res.Key).Msg("Cache miss, waiting for leader")
	if body := e.coalescer.Await(ctx, res.Key, e.cfg.LockTimeout); body != nil {
		return e.served(res, body, ServedCoalesced), nil
	}
	return e.serveUncached(ctx, res, next)
}

// lead runs next on behalf of every caller waiting on res.Key. The group is
// resolved on every exit path, panics included.
func (e *Engine) lead(ctx context.Context, lease Lease, res *Result, ttl time.Duration, next HandlerFunc) (*Result, error) {
	var shared []byte
	defer func() {
		e.coalescer.Resolve(lease, shared)
	}()

	body, err := e.call(ctx, next)
	if err != nil {
		return nil, err
	}

	if e.validator.IsCacheable(body) {
		shared = body
		e.writeAsync(ctx, entry{key: res.Key, body: body, ttl: ttl})
	} else {
		e.logger.Debug().Str("key", res.Key).Msg("Response not cacheable")
	}

	return e.served(res, body, ServedFresh), nil
}

func (e *Engine) serveUncached(ctx context.Context, res *Result, next HandlerFunc) (*Result, error) {
	body, err := e.call(ctx, next)
	if err != nil {
		return nil, err
	}
	return e.served(res, body, ServedUncached), nil
}

func (e *Engine) call(ctx context.Context, next HandlerFunc) ([]byte, error) {
	start := time.Now()
	defer func() {
		DownstreamDuration.Observe(time.Since(start).Seconds())
	}()
	return next(ctx)
}

func (e *Engine) served(res *Result, body []byte, status Status) *Result {
	res.Body = body
	res.Status = status
	Requests.WithLabelValues(status.String()).Inc()
	return res
}

func (e *Engine) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return e.cfg.TTL
	}
	return ttl
}

type entry struct {
	key  string
	body []byte
	ttl  time.Duration
}

// writeAsync stores entries in the background. The request context is
// detached so a disconnecting client does not abort the write.
func (e *Engine) writeAsync(ctx context.Context, entries ...entry) {
	e.submit(ctx, "write", e.cfg.WriteTimeout, func(ctx context.Context) error {
		for _, en := range entries {
			if err := e.store.Set(ctx, en.key, en.body, en.ttl); err != nil {
				e.logger.Warn().Err(err).Str("key", en.key).Msg("Cache write failed")
				return err
			}
			e.logger.Debug().Str("key", en.key).Dur("ttl", en.ttl).Msg("Cached response")
		}
		return nil
	})
}

// submit runs task on the background pool with a detached, time-bounded context.
// It reports false when the pool is saturated or closed and the task was dropped.
func (e *Engine) submit(ctx context.Context, kind string, timeout time.Duration, task func(context.Context) error) bool {
	detached := context.WithoutCancel(ctx)

	e.tasks.Add(1)
	err := e.pool.Submit(func() {
		defer e.tasks.Done()

		taskCtx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()

		if err := task(taskCtx); err != nil {
			BackgroundTasks.WithLabelValues(kind, "error").Inc()
			return
		}
		BackgroundTasks.WithLabelValues(kind, "ok").Inc()
	})
	if err != nil {
		e.tasks.Done()
		BackgroundTasks.WithLabelValues(kind, "dropped").Inc()
		e.logger.Warn().Err(err).Str("kind", kind).Msg("Background cache task dropped")
		return false
	}
	return true
}

// WaitIdle blocks until every background task submitted so far has finished.
func (e *Engine) WaitIdle() {
	e.tasks.Wait()
}

// Close waits for outstanding background work and releases the pool.
// The Redis client is owned by the caller and stays open.
func (e *Engine) Close() error {
	e.tasks.Wait()
	e.pool.Release()
	return nil
}
