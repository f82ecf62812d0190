// Package cache provides the content cache layer: a Redis-backed client
// with bounded timeouts, and a three-tier fallback reader that always
// returns a usable payload tagged with its provenance.
package cache

import (
	"encoding/json"
	"time"
)

// Source tags where a read result came from.
type Source string

const (
	// SourceUpstream marks a payload served from the primary entry,
	// i.e. data written by the most recent successful refresh.
	SourceUpstream Source = "upstream"

	// SourceFallbackSnapshot marks a payload served from the longer-lived
	// safety-net copy. Callers should surface a staleness indicator.
	SourceFallbackSnapshot Source = "fallback-snapshot"

	// SourceStaticDefault marks a caller-supplied placeholder served when
	// both cache tiers missed.
	SourceStaticDefault Source = "static-default"
)

// Entry is a stored cache value. The payload is opaque to the cache
// layer; entries are replaced whole, never merged.
type Entry struct {
	// Payload is the cached value as written by a refresh job.
	Payload json.RawMessage `json:"payload"`

	// WrittenAt is when this entry was written.
	WrittenAt time.Time `json:"written_at"`

	// TTLSeconds is the advisory lifetime; the store also expires the
	// key itself.
	TTLSeconds int `json:"ttl_seconds"`
}

// NewEntry builds an entry for a fresh payload.
func NewEntry(payload json.RawMessage, ttl time.Duration) *Entry {
	return &Entry{
		Payload:    payload,
		WrittenAt:  time.Now().UTC(),
		TTLSeconds: int(ttl.Seconds()),
	}
}

// ExpiresAt returns the advisory expiry time.
func (e *Entry) ExpiresAt() time.Time {
	return e.WrittenAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// IsExpired returns true if the entry is past its advisory TTL.
// An expired entry counts as a miss on the read path.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt())
}

// TTL returns the time until expiration. Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt())
	if ttl < 0 {
		return 0
	}
	return ttl
}
