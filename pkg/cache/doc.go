// Package cache implements the content cache layer backing the site's
// third-party data (contribution graphs, badge data, engagement
// metrics).
//
// The layer has two halves:
//
//   - Client: a thin Redis wrapper with bounded per-operation timeouts,
//     whole-value writes, and a cached health probe.
//   - Reader: the three-tier fallback chain that request handlers use.
//
// # Read path
//
//	store := cache.NewClient(redisClient, cache.DefaultClientConfig())
//	reader := cache.NewReader(store, env)
//
//	result := reader.Read(ctx, "contributions:user", defaultPayload)
//	if result.Source == cache.SourceFallbackSnapshot {
//		// show a "data may be stale" indicator
//	}
//
// A read never fails: primary entry, then fallback snapshot, then the
// caller's static default. The result carries a provenance tag so
// callers cannot forget to check where the payload came from.
//
// # Keys
//
// All keys pass through the namespace package before reaching the
// store; no code in this package (or anywhere else) builds a qualified
// key by hand. Each logical key has a companion snapshot key, derived
// by SnapshotKey, holding the longer-lived safety-net copy.
//
// # Metrics
//
//   - sitecache_store_hits_total / sitecache_store_misses_total
//   - sitecache_store_errors_total{operation}
//   - sitecache_store_healthy
//   - sitecache_reads_total{source}
package cache
