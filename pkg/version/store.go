// Package version holds the per-resource-class version counters that make cache
// invalidation lazy: bumping a counter orphans every cache key built under the
// previous value without deleting anything.
//
// Counters live in Redis so that every process serving the API agrees on them;
// a Memo in front of the Store bounds the number of round trips under burst load.
package version

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Sternrassler/respcache/pkg/resource"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultKeyPrefix is the Redis key prefix for version counters.
// The counter for class "items" lives at "cache:v:items".
const DefaultKeyPrefix = "cache:v:"

// Initial is the value a counter is created with, and reset to by a full flush.
const Initial int64 = 1

// ErrStoreUnavailable indicates Redis could not serve a request. Callers
// degrade to "skip caching" instead of failing the request.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store reads and writes version counters in Redis.
type Store struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewStore creates a version store using DefaultKeyPrefix.
func NewStore(redisClient *redis.Client, logger zerolog.Logger) *Store {
	return NewStoreWithPrefix(redisClient, DefaultKeyPrefix, logger)
}

// NewStoreWithPrefix creates a version store with a custom key prefix.
func NewStoreWithPrefix(redisClient *redis.Client, prefix string, logger zerolog.Logger) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
	}
}

// Key returns the Redis key holding the counter for class.
func (s *Store) Key(class resource.Class) string {
	return s.prefix + string(class)
}

// Get returns the current counter. ok is false when the counter does not exist yet.
func (s *Store) Get(ctx context.Context, class resource.Class) (v int64, ok bool, err error) {
	raw, err := s.redis.Get(ctx, s.Key(class)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("get", err)
	}

	v, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, unavailable("parse", err)
	}
	return v, true, nil
}

// SetIfAbsent atomically creates the counter with value Initial.
// It returns false when another process created it first.
func (s *Store) SetIfAbsent(ctx context.Context, class resource.Class) (bool, error) {
	created, err := s.redis.SetNX(ctx, s.Key(class), Initial, 0).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	if created {
		s.logger.Debug().Str("class", string(class)).Msg("Version counter initialized")
	}
	return created, nil
}

// Increment atomically bumps the counter and returns the new value.
// A missing counter is treated as zero by Redis, so the first bump yields 1.
func (s *Store) Increment(ctx context.Context, class resource.Class) (int64, error) {
	v, err := s.redis.Incr(ctx, s.Key(class)).Result()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return v, nil
}

// Set overwrites the counter.
func (s *Store) Set(ctx context.Context, class resource.Class, v int64) error {
	if err := s.redis.Set(ctx, s.Key(class), v, 0).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: version %s: %v", ErrStoreUnavailable, op, err)
}
