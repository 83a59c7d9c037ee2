package httpcache

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCacheHeader is the response header reporting HIT, MISS or STALE.
const DefaultCacheHeader = "X-Cache"

type options struct {
	ttl     time.Duration
	pathTTL map[string]time.Duration
	swr     bool
	header  string
	logger  zerolog.Logger
}

// Option configures an adapter.
type Option func(*options)

// WithTTL sets the TTL of cached responses. Zero uses the engine default.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithPathTTL overrides the TTL for one exact request path.
func WithPathTTL(path string, ttl time.Duration) Option {
	return func(o *options) {
		o.pathTTL[path] = ttl
	}
}

// WithStaleWhileRevalidate serves expired copies while refreshing in the background.
// Adapters that cannot re-run their downstream after the request ends ignore it.
func WithStaleWhileRevalidate(enabled bool) Option {
	return func(o *options) {
		o.swr = enabled
	}
}

// WithCacheHeader renames the diagnostic header. An empty name disables it.
func WithCacheHeader(name string) Option {
	return func(o *options) {
		o.header = name
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		pathTTL: make(map[string]time.Duration),
		header:  DefaultCacheHeader,
		logger:  log.With().Str("component", "httpcache").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) ttlFor(path string) time.Duration {
	if ttl, ok := o.pathTTL[path]; ok {
		return ttl
	}
	return o.ttl
}
