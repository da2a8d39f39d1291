// Package metrics provides the centralized Prometheus registry reference
// for the KIS market-data server. All metrics are defined in their
// respective packages (kisclient, cache, ratelimit) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the server.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - kis_rate_limit_admissions_total (Counter): Requests admitted through the gate
//   - kis_rate_limit_window_waits_total (Counter): Acquisitions that had to wait on the sliding window
//   - kis_rate_limit_window_occupancy (Gauge): Admissions currently inside the sliding window
//
// Cache Metrics (pkg/cache):
//   - kis_cache_hits_total{backend} (Counter): Cache hits by backend (redis, memory)
//   - kis_cache_misses_total (Counter): Cache misses
//   - kis_cache_errors_total{operation} (Counter): Cache operation errors
//   - kis_cache_invalidations_total{event} (Counter): Keys removed by event invalidation
//
// Request Metrics (pkg/kisclient):
//   - kis_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - kis_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - kis_errors_total{class} (Counter): Errors by class (auth, rate_limit, not_found, validation, network, upstream)
//   - kis_token_refreshes_total (Counter): Successful OAuth token acquisitions
//   - kis_auth_retries_total (Counter): Single-shot 401 retries issued by the pipeline
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(kis_cache_hits_total[5m])) /
//   (sum(rate(kis_cache_hits_total[5m])) + sum(rate(kis_cache_misses_total[5m])))
//
//   # Window Pressure
//   rate(kis_rate_limit_window_waits_total[5m])
//
//   # Request Error Rate
//   rate(kis_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(kis_request_duration_seconds_bucket[5m]))
//
//   # Token Churn
//   rate(kis_token_refreshes_total[1h])
