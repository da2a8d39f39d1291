package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend (redis, memory).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kis_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kis_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks cache operation errors by operation.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kis_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"},
	)

	// CacheInvalidations tracks keys removed by event-driven pattern
	// invalidation.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kis_cache_invalidations_total",
			Help: "Total keys removed by event invalidation",
		},
		[]string{"event"},
	)
)
