// Package replicate implements the one-way metrics replication tool:
// it copies a bounded, filtered key subset from the production cache
// into a lower environment's namespace so previews and local
// development see realistic data.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/perswall/site-cache/pkg/cache"
	"github.com/perswall/site-cache/pkg/logging"
	"github.com/perswall/site-cache/pkg/namespace"
)

// ErrProductionDestination is returned when the destination namespace
// is production. Replication is strictly one-directional, away from
// production.
var ErrProductionDestination = errors.New("replication into production is not allowed")

// Outcome classifies what happened to one candidate key.
type Outcome string

const (
	// OutcomeCopied means the key was read from source and written to
	// the destination (or would have been, on a dry run).
	OutcomeCopied Outcome = "copied"

	// OutcomeSkipped means an exclusion pattern matched.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means the key could not be copied.
	OutcomeFailed Outcome = "failed"
)

// KeyResult is the per-key line of a replication report.
type KeyResult struct {
	LogicalKey string
	Outcome    Outcome

	// Pattern is the exclusion pattern that matched (skipped keys only).
	Pattern string

	// Reason explains a failure.
	Reason string
}

// Report summarizes a replication run. A non-zero Failed count is the
// caller's signal that the run was partial.
type Report struct {
	Results []KeyResult
	Copied  int
	Skipped int
	Failed  int
	DryRun  bool
}

// Request describes one replication run.
type Request struct {
	// Keys are the candidate logical keys.
	Keys []string

	// Source is the namespace keys are read from.
	Source namespace.Environment

	// Dest is the namespace keys are written into. Never production.
	Dest namespace.Environment

	// Exclusions are checked last; a matching key is never copied
	// regardless of the key list.
	Exclusions ExclusionPatterns

	// TTL applies to every replicated entry. Zero means 24h.
	TTL time.Duration

	// DryRun produces the full report without issuing a single write.
	DryRun bool
}

// Config holds replicator tuning knobs.
type Config struct {
	// BatchSize bounds how many keys one MultiGet round trip carries.
	BatchSize int
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 50}
}

// Replicator performs one-way key copies between environments through
// a shared store.
type Replicator struct {
	store  cache.Store
	config Config
	logger zerolog.Logger
}

// New creates a replicator.
func New(store cache.Store, cfg Config) *Replicator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Replicator{
		store:  store,
		config: cfg,
		logger: logging.NewLogger("replicator"),
	}
}

// Replicate runs one copy pass and returns the per-key report.
func (r *Replicator) Replicate(ctx context.Context, req Request) (*Report, error) {
	if req.Dest.IsProduction() {
		return nil, ErrProductionDestination
	}
	if err := req.Dest.Validate(); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if err := req.Source.Validate(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	report := &Report{DryRun: req.DryRun}

	// Exclusion comes first so excluded keys never reach the store at
	// all, then the remainder is read in bounded batches.
	var candidates []string
	for _, logicalKey := range req.Keys {
		if pattern, matched := req.Exclusions.Match(logicalKey); matched {
			report.add(KeyResult{LogicalKey: logicalKey, Outcome: OutcomeSkipped, Pattern: pattern})
			continue
		}
		candidates = append(candidates, logicalKey)
	}

	for start := 0; start < len(candidates); start += r.config.BatchSize {
		end := start + r.config.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		r.replicateBatch(ctx, req, candidates[start:end], ttl, report)
	}

	r.logger.Info().
		Int("copied", report.Copied).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Bool("dry_run", req.DryRun).
		Str("dest", string(req.Dest.Kind)+":"+req.Dest.Discriminator).
		Msg("Replication complete")
	return report, nil
}

func (r *Replicator) replicateBatch(ctx context.Context, req Request, logicalKeys []string, ttl time.Duration, report *Report) {
	sourceKeys := make([]string, len(logicalKeys))
	for i, logicalKey := range logicalKeys {
		sourceKeys[i] = namespace.Qualify(logicalKey, req.Source)
	}

	entries, err := r.store.MultiGet(ctx, sourceKeys)
	if err != nil {
		// The whole batch failed to read; every key is reported.
		for _, logicalKey := range logicalKeys {
			report.add(KeyResult{LogicalKey: logicalKey, Outcome: OutcomeFailed, Reason: fmt.Sprintf("source read: %v", err)})
		}
		return
	}

	for i, logicalKey := range logicalKeys {
		entry, found := entries[sourceKeys[i]]
		if !found {
			report.add(KeyResult{LogicalKey: logicalKey, Outcome: OutcomeFailed, Reason: "not found in source cache"})
			continue
		}

		if !req.DryRun {
			destKey := namespace.Qualify(logicalKey, req.Dest)
			if err := r.store.Set(ctx, destKey, cache.NewEntry(entry.Payload, ttl), ttl); err != nil {
				report.add(KeyResult{LogicalKey: logicalKey, Outcome: OutcomeFailed, Reason: fmt.Sprintf("destination write: %v", err)})
				continue
			}
		}
		report.add(KeyResult{LogicalKey: logicalKey, Outcome: OutcomeCopied})
	}
}

func (r *Report) add(result KeyResult) {
	r.Results = append(r.Results, result)
	switch result.Outcome {
	case OutcomeCopied:
		r.Copied++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	replicatedKeys.WithLabelValues(string(result.Outcome)).Inc()
}
