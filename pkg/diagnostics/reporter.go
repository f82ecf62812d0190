// Package diagnostics provides a read-only inspector over the cache:
// key existence, payload freshness, and the resolved namespace
// configuration. It is the canonical way to tell "cache genuinely
// empty" apart from "namespace misconfigured".
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/perswall/site-cache/pkg/cache"
	"github.com/perswall/site-cache/pkg/namespace"
)

// KeyStatus describes one tracked key.
type KeyStatus struct {
	// LogicalKey is the environment-agnostic name.
	LogicalKey string

	// QualifiedKey is what the store was actually asked for, so an
	// operator can spot namespace mistakes at a glance.
	QualifiedKey string

	// Exists is true when an unexpired entry is present.
	Exists bool

	// LastWritten is when the entry was written (zero when absent).
	LastWritten time.Time

	// TTLRemaining is the advisory time until expiry (zero when absent).
	TTLRemaining time.Duration
}

// KeyHealth is the per-key shape of the health endpoint.
type KeyHealth struct {
	Exists bool   `json:"exists"`
	Status string `json:"status"` // "OK" or "MISSING"
}

// HealthReport is the aggregate shape of the health endpoint.
type HealthReport struct {
	Healthy bool                 `json:"healthy"`
	Summary string               `json:"summary"`
	Keys    map[string]KeyHealth `json:"keys"`
}

// Reporter inspects the cache without ever writing to it.
type Reporter struct {
	store cache.Store
	env   namespace.Environment
}

// NewReporter creates a reporter bound to the resolved environment.
func NewReporter(store cache.Store, env namespace.Environment) *Reporter {
	return &Reporter{store: store, env: env}
}

// Environment returns the namespace configuration being inspected.
func (r *Reporter) Environment() namespace.Environment {
	return r.env
}

// Inspect reports on each logical key in order.
func (r *Reporter) Inspect(ctx context.Context, logicalKeys []string) []KeyStatus {
	statuses := make([]KeyStatus, 0, len(logicalKeys))
	for _, logicalKey := range logicalKeys {
		qualified := namespace.Qualify(logicalKey, r.env)
		status := KeyStatus{LogicalKey: logicalKey, QualifiedKey: qualified}

		entry, err := r.store.Get(ctx, qualified)
		if err == nil {
			status.Exists = true
			status.LastWritten = entry.WrittenAt
			status.TTLRemaining = entry.TTL()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Health reduces an inspection to the health endpoint shape:
// per-key OK/MISSING, an aggregate flag, and a human-readable summary.
func (r *Reporter) Health(ctx context.Context, logicalKeys []string) HealthReport {
	report := HealthReport{
		Healthy: true,
		Keys:    make(map[string]KeyHealth, len(logicalKeys)),
	}

	populated := 0
	for _, status := range r.Inspect(ctx, logicalKeys) {
		health := KeyHealth{Exists: status.Exists, Status: "MISSING"}
		if status.Exists {
			health.Status = "OK"
			populated++
		} else {
			report.Healthy = false
		}
		report.Keys[status.LogicalKey] = health
	}
	report.Summary = fmt.Sprintf("%d/%d cache keys populated", populated, len(logicalKeys))
	return report
}
