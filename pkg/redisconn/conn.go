// Package redisconn creates the Redis client shared by the version store and
// the response cache, retrying the initial connection with exponential backoff.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUnreachable is returned when Redis did not answer within the configured attempts.
var ErrUnreachable = errors.New("redis unreachable")

var connectRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "respcache_redis_connect_retries_total",
	Help: "Total number of Redis connection retries at startup",
})

// Config holds the Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int

	// MaxAttempts is the number of pings before giving up (including the first).
	MaxAttempts int

	// InitialBackoff is the wait after the first failed ping.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		Addr:              "localhost:6379",
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		DialTimeout:       2 * time.Second,
	}
}

// NewClient creates a client with command metrics attached. It does not connect.
func NewClient(cfg Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	client.AddHook(NewMetricsHook())
	return client
}

// Connect creates a client and pings it until it answers or the attempts are
// exhausted. The client is returned in both cases: on ErrUnreachable callers
// may keep it and run degraded, since go-redis reconnects on later commands.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*redis.Client, error) {
	client := NewClient(cfg)

	err := retryWithBackoff(ctx, cfg, logger, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		return client, err
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connected to Redis")
	return client, nil
}

// retryWithBackoff executes fn with exponential backoff.
// It respects context cancellation and adds jitter to spread reconnect storms.
func retryWithBackoff(ctx context.Context, cfg Config, logger zerolog.Logger, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Redis answered after retry")
			}
			return nil
		}
		lastErr = err

		if attempt >= attempts {
			break
		}

		connectRetries.Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))

		logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Redis not reachable, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * multiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrUnreachable, attempts, lastErr)
}
