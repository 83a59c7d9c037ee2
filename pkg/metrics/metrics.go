// Package metrics provides the Prometheus registry and HTTP handler for respcache.
// All metrics are defined in their respective packages (cache, version, redisconn)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by respcache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the metrics of Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Engine Metrics (pkg/cache):
//   - respcache_requests_total{status} (Counter): Served requests by outcome (hit, fresh, coalesced, uncached, stale)
//   - respcache_store_errors_total{operation} (Counter): Backing store errors by operation
//   - respcache_background_tasks_total{kind, result} (Counter): Background writes and refreshes (ok, error, dropped)
//   - respcache_coalescer_pending (Gauge): Keys currently computed by a leader
//   - respcache_coalescer_timeouts_total (Counter): Waiters that timed out and self-fetched
//   - respcache_invalidations_total{kind, result} (Counter): Bumps, pattern deletes and flushes
//   - respcache_downstream_duration_seconds (Histogram): Handler duration on misses
//
// Version Metrics (pkg/version):
//   - respcache_version_lookups_total{source} (Counter): Version resolutions (memo, store, stale, default)
//
// Redis Metrics (pkg/redisconn):
//   - respcache_redis_command_duration_seconds{command, status} (Histogram): Command latency
//   - respcache_redis_connect_retries_total (Counter): Startup connection retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate (coalesced responses count as hits)
//   sum(rate(respcache_requests_total{status=~"hit|coalesced"}[5m])) /
//   sum(rate(respcache_requests_total[5m]))
//
//   # Degraded Serving
//   rate(respcache_requests_total{status="uncached"}[5m])
//
//   # Version Store Fallbacks
//   rate(respcache_version_lookups_total{source=~"stale|default"}[5m])
//
//   # P95 Downstream Latency
//   histogram_quantile(0.95, rate(respcache_downstream_duration_seconds_bucket[5m]))
