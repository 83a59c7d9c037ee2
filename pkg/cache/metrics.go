package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests tracks served requests by outcome
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_requests_total",
			Help: "Total number of requests served through the cache engine",
		},
		[]string{"status"}, // "hit", "fresh", "coalesced", "uncached", "stale"
	)

	// StoreErrors tracks backing store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan", "flush"
	)

	// BackgroundTasks tracks fire-and-forget writes and stale refreshes
	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_background_tasks_total",
			Help: "Total number of background cache tasks by kind and result",
		},
		[]string{"kind", "result"}, // kind: "write", "refresh"; result: "ok", "error", "dropped"
	)

	// CoalescerPending tracks in-flight coalescing groups
	CoalescerPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "respcache_coalescer_pending",
			Help: "Number of cache keys currently being computed by a leader",
		},
	)

	// CoalescerTimeouts tracks waiters that gave up on their leader
	CoalescerTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "respcache_coalescer_timeouts_total",
			Help: "Total number of coalesced waiters that timed out and self-fetched",
		},
	)

	// Invalidations tracks invalidation operations
	Invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_invalidations_total",
			Help: "Total number of cache invalidations by kind and result",
		},
		[]string{"kind", "result"}, // kind: "bump", "pattern", "flush"; result: "ok", "error"
	)

	// DownstreamDuration tracks handler execution time on cache misses
	DownstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "respcache_downstream_duration_seconds",
			Help:    "Duration of downstream handler calls made on cache misses",
			Buckets: prometheus.DefBuckets,
		},
	)
)
