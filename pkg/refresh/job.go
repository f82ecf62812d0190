// Package refresh implements the refresh job framework: fetch from an
// upstream provider, transform, and write the primary and
// fallback-snapshot cache entries.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/perswall/site-cache/pkg/cache"
	"github.com/perswall/site-cache/pkg/logging"
	"github.com/perswall/site-cache/pkg/namespace"
)

// ErrUpstreamFetch indicates the provider was unreachable or returned
// data the transform could not use. The job never writes a cache entry
// for such a run, so the reader's existing snapshot stays in effect.
var ErrUpstreamFetch = errors.New("upstream fetch failed")

// Provider fetches raw data from one upstream source. The core never
// sees a provider's wire format beyond this boundary.
type Provider interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) ([]byte, error)

// Fetch implements Provider.
func (f ProviderFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

// Transform converts raw upstream data into the cache payload shape.
// A nil Transform stores the raw bytes, which must then be valid JSON.
type Transform func(raw []byte) (json.RawMessage, error)

// Config holds the fixed parameters of one refresh job.
type Config struct {
	// LogicalKey is the environment-agnostic key the job maintains.
	// The fallback snapshot is written under cache.SnapshotKey(LogicalKey).
	LogicalKey string

	// PrimaryTTL is the lifetime of the primary entry.
	PrimaryTTL time.Duration

	// SnapshotTTL is the lifetime of the safety-net copy. It should be
	// several refresh cadences long so the snapshot survives a string
	// of failed runs.
	SnapshotTTL time.Duration
}

// Job fetches, transforms, and writes both cache tiers. It implements
// scheduler.Runner.
type Job struct {
	config    Config
	provider  Provider
	transform Transform
	store     cache.Store
	env       namespace.Environment
	logger    zerolog.Logger
}

// NewJob creates a refresh job.
func NewJob(cfg Config, provider Provider, transform Transform, store cache.Store, env namespace.Environment) (*Job, error) {
	if cfg.LogicalKey == "" {
		return nil, fmt.Errorf("logical key required")
	}
	if provider == nil {
		return nil, fmt.Errorf("job %q: provider required", cfg.LogicalKey)
	}
	if store == nil {
		return nil, fmt.Errorf("job %q: store required", cfg.LogicalKey)
	}
	if cfg.PrimaryTTL <= 0 {
		return nil, fmt.Errorf("job %q: primary TTL must be positive", cfg.LogicalKey)
	}
	if cfg.SnapshotTTL <= cfg.PrimaryTTL {
		return nil, fmt.Errorf("job %q: snapshot TTL must outlive primary TTL", cfg.LogicalKey)
	}
	return &Job{
		config:    cfg,
		provider:  provider,
		transform: transform,
		store:     store,
		env:       env,
		logger:    logging.NewLogger("refresh").With().Str("key", cfg.LogicalKey).Logger(),
	}, nil
}

// Run executes one refresh. The two writes are sequential, not
// transactional: the primary entry is authoritative, so a failed
// snapshot write degrades the safety net but the run still succeeds.
func (j *Job) Run(ctx context.Context) error {
	raw, err := j.provider.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}

	payload := json.RawMessage(raw)
	if j.transform != nil {
		// Malformed upstream data fails the run the same way an
		// unreachable provider does; nothing is written.
		payload, err = j.transform(raw)
		if err != nil {
			return fmt.Errorf("%w: transform: %v", ErrUpstreamFetch, err)
		}
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrUpstreamFetch)
	}

	primaryKey := namespace.Qualify(j.config.LogicalKey, j.env)
	if err := j.store.Set(ctx, primaryKey, cache.NewEntry(payload, j.config.PrimaryTTL), j.config.PrimaryTTL); err != nil {
		return fmt.Errorf("write primary entry: %w", err)
	}

	snapshotKey := namespace.Qualify(cache.SnapshotKey(j.config.LogicalKey), j.env)
	if err := j.store.Set(ctx, snapshotKey, cache.NewEntry(payload, j.config.SnapshotTTL), j.config.SnapshotTTL); err != nil {
		j.logger.Warn().Err(err).Msg("Snapshot write failed after successful primary write")
	}

	j.logger.Debug().
		Int("bytes", len(payload)).
		Dur("ttl", j.config.PrimaryTTL).
		Msg("Refresh complete")
	return nil
}

// LogicalKey returns the key this job maintains, for wiring health
// checks and diagnostics from a single job list.
func (j *Job) LogicalKey() string {
	return j.config.LogicalKey
}
