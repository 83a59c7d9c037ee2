// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name. Matching is case-insensitive and
// "warning" is accepted for LevelWarn.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	switch parsed {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRequestID returns ctx carrying a copy of logger tagged with the request id.
func WithRequestID(ctx context.Context, logger zerolog.Logger, requestID string) context.Context {
	return logger.With().Str("request_id", requestID).Logger().WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or the global logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache decisions (hit, miss, leader, waiter, key, version)
//   - Background writes and refreshes
//   - Responses rejected by the validator
//
// Info: Normal operation events
//   - Version bumps, pattern invalidations, flushes
//   - Redis connection established
//   - Server startup/shutdown
//   - Access log lines
//
// Warn: Warning conditions that don't prevent operation
//   - Redis errors (request served uncached)
//   - Version store fallbacks (stale or initial version)
//   - Dropped background tasks
//   - Connection retries
//
// Error: Error conditions requiring attention
//   - Downstream handler failures answered with 500
//   - Background task panics
//   - Configuration errors
//
// Context Fields:
//   - component: Emitting component (cache-engine, httpcache, server)
//   - request_id: X-Request-ID of the request
//   - key: Cache key
//   - class: Resource class
//   - version: Version counter value
//   - status: Engine outcome (hit, fresh, coalesced, uncached, stale)
//   - pattern: Invalidation glob pattern
//   - ttl: Cache entry TTL
