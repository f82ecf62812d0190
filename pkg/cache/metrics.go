package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeHits tracks entries served from the store (any tier).
	storeHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitecache_store_hits_total",
			Help: "Total number of cache store hits",
		},
	)

	// storeMisses tracks absent or expired entries.
	storeMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitecache_store_misses_total",
			Help: "Total number of cache store misses",
		},
	)

	// storeErrors tracks store operation failures.
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "mget", "delete"
	)

	// storeHealthy reflects the last health probe (1 healthy, 0 not).
	storeHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitecache_store_healthy",
			Help: "Whether the cache store answered the most recent ping",
		},
	)

	// readsBySource tracks what the fallback chain ended up serving.
	readsBySource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_reads_total",
			Help: "Total fallback chain reads by result source",
		},
		[]string{"source"}, // "upstream", "fallback-snapshot", "static-default"
	)
)
