package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perswall/site-cache/pkg/cache"
	"github.com/perswall/site-cache/pkg/logging"
	"github.com/perswall/site-cache/pkg/namespace"
)

// budgetKeyPrefix is the logical key prefix for persisted window counters.
const budgetKeyPrefix = "scheduler:budget:"

// budgetWindowTTL keeps a window counter around for two billing cycles.
const budgetWindowTTL = 62 * 24 * time.Hour

// daysPerMonth is the worst-case month length used for the registration
// projection. The ceiling is a billing constraint, so projecting against
// 31 days keeps the check conservative.
const daysPerMonth = 31

// BudgetError is returned at registration time when a job's cadence
// would push the projected monthly executions past the configured
// ceiling. Jobs are rejected up front, never silently throttled at
// runtime.
type BudgetError struct {
	Job              string
	ProjectedMonthly float64
	Ceiling          int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("registering job %q would project %.0f executions/month, over the ceiling of %d",
		e.Job, e.ProjectedMonthly, e.Ceiling)
}

// budgetWindow is the persisted counter payload.
type budgetWindow struct {
	Window     string `json:"window"` // YYYYMM, UTC
	Executions int    `json:"executions"`
}

// BudgetTracker counts executions inside the current billing window
// (a UTC calendar month). The counter is persisted through the cache
// store so a process restart does not reset the window; persistence is
// best-effort and degrades to in-memory counting.
type BudgetTracker struct {
	ceiling int
	store   cache.Store
	env     namespace.Environment
	logger  zerolog.Logger

	mu     sync.Mutex
	window string
	used   int
}

// NewBudgetTracker creates a tracker. store may be nil for purely
// in-memory accounting (tests, diagnostics).
func NewBudgetTracker(ceiling int, store cache.Store, env namespace.Environment) *BudgetTracker {
	return &BudgetTracker{
		ceiling: ceiling,
		store:   store,
		env:     env,
		logger:  logging.NewLogger("budget"),
	}
}

// Ceiling returns the configured monthly execution ceiling.
func (t *BudgetTracker) Ceiling() int { return t.ceiling }

// currentWindow returns the billing window identifier for a time.
func currentWindow(now time.Time) string {
	return now.UTC().Format("200601")
}

// Load hydrates the counter for the current window from the store.
// Called once at startup; a store failure leaves the in-memory counter
// at zero and logs a warning.
func (t *BudgetTracker) Load(ctx context.Context) {
	if t.store == nil {
		return
	}
	window := currentWindow(time.Now())
	key := namespace.Qualify(budgetKeyPrefix+window, t.env)

	entry, err := t.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			t.logger.Warn().Err(err).Msg("Could not load budget window, starting from zero")
		}
		t.mu.Lock()
		t.window = window
		t.mu.Unlock()
		return
	}

	var persisted budgetWindow
	if err := json.Unmarshal(entry.Payload, &persisted); err != nil {
		t.logger.Warn().Err(err).Msg("Undecodable budget window, starting from zero")
		persisted = budgetWindow{Window: window}
	}

	t.mu.Lock()
	t.window = window
	if persisted.Window == window {
		t.used = persisted.Executions
	}
	t.mu.Unlock()

	budgetUsed.Set(float64(t.Used()))
}

// Record counts one execution in the current window, resetting the
// counter when the calendar month rolled over. The updated counter is
// persisted best-effort.
func (t *BudgetTracker) Record(ctx context.Context) {
	window := currentWindow(time.Now())

	t.mu.Lock()
	if window != t.window {
		t.window = window
		t.used = 0
	}
	t.used++
	used := t.used
	t.mu.Unlock()

	budgetUsed.Set(float64(used))
	if t.ceiling > 0 && used > t.ceiling {
		t.logger.Error().
			Int("used", used).
			Int("ceiling", t.ceiling).
			Str("window", window).
			Msg("Execution budget exceeded in current billing window")
	}

	if t.store == nil {
		return
	}
	payload, err := json.Marshal(budgetWindow{Window: window, Executions: used})
	if err != nil {
		return
	}
	key := namespace.Qualify(budgetKeyPrefix+window, t.env)
	if err := t.store.Set(ctx, key, cache.NewEntry(payload, budgetWindowTTL), budgetWindowTTL); err != nil {
		t.logger.Warn().Err(err).Msg("Could not persist budget window, counting in memory only")
	}
}

// Used returns the executions counted in the current window.
func (t *BudgetTracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Window returns the current billing window identifier (YYYYMM).
func (t *BudgetTracker) Window() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window
}
