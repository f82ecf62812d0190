package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/perswall/site-cache/pkg/logging"
	"github.com/perswall/site-cache/pkg/namespace"
)

// SnapshotKey derives the fallback-snapshot logical key for a logical
// key. The snapshot is a longer-lived copy written by the same refresh
// job as the primary entry.
func SnapshotKey(logicalKey string) string {
	return logicalKey + ":fallback"
}

// Result is what every read returns. The payload is always usable:
// when both cache tiers miss, it carries the caller's static default
// and OK is false. Callers decide from Source/Fresh whether to show a
// staleness indicator.
type Result struct {
	// Payload is the served value, never nil.
	Payload json.RawMessage

	// Source tags the tier the payload came from.
	Source Source

	// Fresh is true only for an unexpired primary hit.
	Fresh bool

	// OK is false when the static default was served.
	OK bool
}

// Reader walks the three-tier fallback chain:
// primary entry -> fallback snapshot -> caller-supplied static default.
// Request handlers always receive some payload; cache and store
// failures degrade freshness, never availability.
type Reader struct {
	store  Store
	env    namespace.Environment
	logger zerolog.Logger
}

// NewReader creates a reader bound to the resolved environment.
func NewReader(store Store, env namespace.Environment) *Reader {
	return &Reader{
		store:  store,
		env:    env,
		logger: logging.NewLogger("cache-reader"),
	}
}

// Read resolves a logical key through the fallback chain. staticDefault
// must be a usable placeholder payload; it is returned verbatim when
// both tiers miss.
func (r *Reader) Read(ctx context.Context, logicalKey string, staticDefault json.RawMessage) Result {
	primaryKey := namespace.Qualify(logicalKey, r.env)

	entry, err := r.store.Get(ctx, primaryKey)
	if err == nil && r.store.Healthy(ctx) {
		readsBySource.WithLabelValues(string(SourceUpstream)).Inc()
		return Result{Payload: entry.Payload, Source: SourceUpstream, Fresh: true, OK: true}
	}
	if err != nil && !errors.Is(err, ErrMiss) {
		// Store trouble, not a plain miss. Log and degrade.
		r.logger.Warn().Str("key", primaryKey).Err(err).Msg("Primary read failed, trying fallback snapshot")
	}

	snapshotKey := namespace.Qualify(SnapshotKey(logicalKey), r.env)
	snapshot, snapErr := r.store.Get(ctx, snapshotKey)
	if snapErr == nil {
		readsBySource.WithLabelValues(string(SourceFallbackSnapshot)).Inc()
		r.logger.Debug().Str("key", logicalKey).Msg("Serving fallback snapshot")
		return Result{Payload: snapshot.Payload, Source: SourceFallbackSnapshot, Fresh: false, OK: true}
	}

	readsBySource.WithLabelValues(string(SourceStaticDefault)).Inc()
	r.logger.Warn().
		Str("key", logicalKey).
		Str("environment", string(r.env.Kind)).
		Msg("Both cache tiers missed, serving static default")
	return Result{Payload: staticDefault, Source: SourceStaticDefault, Fresh: false, OK: false}
}
