package version

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/respcache/pkg/resource"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	// DefaultMemoTTL is how long a memoized version is trusted without asking Redis.
	DefaultMemoTTL = 250 * time.Millisecond

	// MaxMemoTTL bounds cross-process staleness after an invalidation.
	MaxMemoTTL = 500 * time.Millisecond
)

// Prometheus metrics for version resolution.
var (
	versionLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_version_lookups_total",
		Help: "Version resolutions by source (memo, store, stale, default)",
	}, []string{"source"})
)

// Source is the subset of Store the memo reads through.
type Source interface {
	Get(ctx context.Context, class resource.Class) (int64, bool, error)
	SetIfAbsent(ctx context.Context, class resource.Class) (bool, error)
}

type memoEntry struct {
	value     int64
	fetchedAt time.Time
}

// Memo is a per-process, time-bounded cache of version counters.
// It is safe for concurrent use.
type Memo struct {
	source Source
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[resource.Class]memoEntry

	// seq orders local writes against in-flight store reads
	seq      uint64
	written  map[resource.Class]uint64
	resetSeq uint64
}

// MemoOption configures a Memo.
type MemoOption func(*Memo)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) MemoOption {
	return func(m *Memo) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the memo logger.
func WithLogger(logger zerolog.Logger) MemoOption {
	return func(m *Memo) {
		m.logger = logger
	}
}

// NewMemo creates a memo in front of source. ttl <= 0 selects DefaultMemoTTL;
// values above MaxMemoTTL are clamped.
func NewMemo(source Source, ttl time.Duration, opts ...MemoOption) *Memo {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	if ttl > MaxMemoTTL {
		ttl = MaxMemoTTL
	}

	m := &Memo{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		logger:  zerolog.Nop(),
		entries: make(map[resource.Class]memoEntry),
		written: make(map[resource.Class]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the effective memo TTL.
func (m *Memo) TTL() time.Duration {
	return m.ttl
}

// Resolve returns the current version of class. It never fails: when the
// store is unreachable it falls back to the last known value, or Initial.
func (m *Memo) Resolve(ctx context.Context, class resource.Class) int64 {
	m.mu.Lock()
	entry, ok := m.entries[class]
	start := m.seq
	m.mu.Unlock()

	if ok && m.now().Sub(entry.fetchedAt) < m.ttl {
		versionLookups.WithLabelValues("memo").Inc()
		return entry.value
	}

	v, err := m.fetch(ctx, class)
	if err != nil {
		// A local Set may have landed during the failed read
		m.mu.Lock()
		entry, ok = m.entries[class]
		m.mu.Unlock()
		if ok {
			versionLookups.WithLabelValues("stale").Inc()
			m.logger.Warn().Err(err).
				Str("class", string(class)).
				Int64("version", entry.value).
				Msg("Version store unavailable, using stale memo entry")
			return entry.value
		}
		versionLookups.WithLabelValues("default").Inc()
		m.logger.Warn().Err(err).
			Str("class", string(class)).
			Msg("Version store unavailable, using initial version")
		return Initial
	}

	versionLookups.WithLabelValues("store").Inc()
	return m.store(class, v, start)
}

// store memoizes a value read from the store, unless a local Set or Reset
// happened while the read was in flight. A local Set wins over the read.
func (m *Memo) store(class resource.Class, v int64, start uint64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.written[class] > start {
		return m.entries[class].value
	}
	if m.resetSeq > start {
		return v
	}
	m.entries[class] = memoEntry{value: v, fetchedAt: m.now()}
	return v
}

// Set records v as the current version of class, fetched now.
func (m *Memo) Set(class resource.Class, v int64) {
	m.mu.Lock()
	m.seq++
	m.written[class] = m.seq
	m.entries[class] = memoEntry{value: v, fetchedAt: m.now()}
	m.mu.Unlock()
}

// Reset forgets every memoized version.
func (m *Memo) Reset() {
	m.mu.Lock()
	m.seq++
	m.resetSeq = m.seq
	m.entries = make(map[resource.Class]memoEntry)
	m.written = make(map[resource.Class]uint64)
	m.mu.Unlock()
}

// fetch reads the counter, lazily creating it when absent.
func (m *Memo) fetch(ctx context.Context, class resource.Class) (int64, error) {
	v, ok, err := m.source.Get(ctx, class)
	if err != nil {
		return 0, err
	}
	if ok {
		return v, nil
	}

	created, err := m.source.SetIfAbsent(ctx, class)
	if err != nil {
		return 0, err
	}
	if created {
		return Initial, nil
	}

	// Lost the creation race; the winner's value is there now.
	v, ok, err = m.source.Get(ctx, class)
	if err != nil {
		return 0, err
	}
	if !ok {
		return Initial, nil
	}
	return v, nil
}
