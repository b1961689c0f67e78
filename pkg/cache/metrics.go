package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	layerMemory = "memory"
	layerRedis  = "redis"
	layerSQLite = "sqlite"
)

var (
	// CacheHits tracks cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m365_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"}, // "memory", "redis", "sqlite"
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m365_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m365_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"layer", "operation"}, // operation: "get", "set", "remove"
	)
)
