package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/respcache/pkg/version"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")
)

const (
	// DefaultCooldown is how long the manager reports the store unavailable after a failure.
	DefaultCooldown = 2 * time.Second

	// DefaultScanBatch is the COUNT hint used by Scan.
	DefaultScanBatch = 100
)

// Manager handles cache body storage with Redis backend.
type Manager struct {
	redis    *redis.Client
	cooldown time.Duration
	now      func() time.Time

	mu        sync.Mutex
	downUntil time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCooldown sets how long a failure marks the store unavailable.
// Zero disables the cooldown.
func WithCooldown(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.cooldown = d
		}
	}
}

// WithManagerClock replaces time.Now (tests).
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, opts ...ManagerOption) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	m := &Manager{
		redis:    redisClient,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Available reports whether the store is worth asking. It turns false after
// a failed command and recovers once the cooldown has elapsed.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.now().Before(m.downUntil)
}

// MarkUnavailable starts a cooldown period during which Available is false.
func (m *Manager) MarkUnavailable() {
	m.mu.Lock()
	m.downUntil = m.now().Add(m.cooldown)
	m.mu.Unlock()
}

func (m *Manager) markAvailable() {
	m.mu.Lock()
	m.downUntil = time.Time{}
	m.mu.Unlock()
}

// fail records a store failure and wraps err in version.ErrStoreUnavailable.
// A caller whose own context ended says nothing about Redis, so it neither
// counts as a store error nor starts the cooldown.
func (m *Manager) fail(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	StoreErrors.WithLabelValues(op).Inc()
	m.MarkUnavailable()
	return fmt.Errorf("%w: redis %s: %v", version.ErrStoreUnavailable, op, err)
}

// Get retrieves a cached body by key.
// Returns ErrCacheMiss if the key doesn't exist or has expired.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, m.fail(ctx, "get", err)
	}
	return data, nil
}

// Set stores body under key. The entry is removed by Redis after ttl.
func (m *Manager) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", ttl)
	}
	if err := m.redis.Set(ctx, key, body, ttl).Err(); err != nil {
		return m.fail(ctx, "set", err)
	}
	return nil
}

// Delete removes keys in a single call and returns how many existed.
func (m *Manager) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := m.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, m.fail(ctx, "delete", err)
	}
	return n, nil
}

// Scan collects every key matching the glob pattern, iterating the keyspace
// in batches of batch keys (DefaultScanBatch when batch <= 0).
func (m *Manager) Scan(ctx context.Context, pattern string, batch int64) ([]string, error) {
	if batch <= 0 {
		batch = DefaultScanBatch
	}

	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		page, next, err := m.redis.Scan(ctx, cursor, pattern, batch).Result()
		if err != nil {
			return nil, m.fail(ctx, "scan", err)
		}
		// SCAN may return a key more than once
		for _, k := range page {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Flush removes every key of the selected database, version counters included.
func (m *Manager) Flush(ctx context.Context) error {
	if err := m.redis.FlushDB(ctx).Err(); err != nil {
		return m.fail(ctx, "flush", err)
	}
	return nil
}

// Ping checks connectivity and restores availability on success.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return m.fail(ctx, "ping", err)
	}
	m.markAvailable()
	return nil
}

// TTL returns the remaining lifetime of key; negative when it has none.
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := m.redis.TTL(ctx, key).Result()
	if err != nil {
		return 0, m.fail(ctx, "ttl", err)
	}
	return d, nil
}
