// Package scheduler drives registered refresh jobs on fixed cadences
// under a monthly execution budget. One cooperative timer loop evaluates
// all jobs; each due job runs on its own goroutine with retries,
// exponential backoff, and a per-job run lock so a job never overlaps
// itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perswall/site-cache/pkg/logging"
)

var (
	// ErrUnknownJob is returned when triggering a name that was never registered.
	ErrUnknownJob = errors.New("unknown job")

	// ErrAlreadyRunning is returned when a manual trigger collides with
	// a run in progress. The trigger is rejected, not queued.
	ErrAlreadyRunning = errors.New("job already running")
)

// Runner executes one refresh. refresh.Job implements this.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Descriptor configures a registered job.
type Descriptor struct {
	// Name identifies the job in logs, metrics and the trigger surface.
	Name string

	// Cadence is when the job fires.
	Cadence Cadence

	// MaxRetries is how many extra attempts follow a failed run.
	MaxRetries int

	// RetryBackoff is the base backoff; attempt n waits
	// RetryBackoff * 2^n, capped by Config.MaxBackoff.
	RetryBackoff time.Duration

	// BudgetWeight scales the executions this job consumes against the
	// monthly ceiling. Zero means 1.
	BudgetWeight float64
}

// State is a job's position in its run lifecycle.
type State string

const (
	// StateIdle means no run is in progress.
	StateIdle State = "idle"

	// StateRunning means a run (possibly a retry attempt) is in progress.
	StateRunning State = "running"
)

// Status is a point-in-time snapshot of a registered job, consumed by
// the diagnostics surfaces.
type Status struct {
	Name        string
	State       State
	NextFire    time.Time
	LastSuccess time.Time
	LastFailure time.Time
	LastError   string
}

// Config holds scheduler tuning knobs.
type Config struct {
	// MonthlyExecutionCeiling is the billing-tier execution budget.
	MonthlyExecutionCeiling int

	// TickInterval is how often the loop evaluates due jobs.
	TickInterval time.Duration

	// RunTimeout forcibly cancels a single attempt stuck past this
	// ceiling; the attempt counts as failed.
	RunTimeout time.Duration

	// MaxBackoff caps the exponential retry backoff.
	MaxBackoff time.Duration
}

// DefaultConfig returns safe defaults.
func DefaultConfig(monthlyCeiling int) Config {
	return Config{
		MonthlyExecutionCeiling: monthlyCeiling,
		TickInterval:            30 * time.Second,
		RunTimeout:              60 * time.Second,
		MaxBackoff:              5 * time.Minute,
	}
}

type jobEntry struct {
	desc   Descriptor
	runner Runner

	mu          sync.Mutex
	running     bool
	nextFire    time.Time
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// tryAcquire takes the per-job run lock. Returns false when a run is
// already in progress.
func (j *jobEntry) tryAcquire() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *jobEntry) release() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// Scheduler owns the registered jobs and the timer loop.
type Scheduler struct {
	config Config
	budget *BudgetTracker
	logger zerolog.Logger

	mu     sync.Mutex
	jobs   map[string]*jobEntry
	runCtx context.Context

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a scheduler. budget must not be nil.
func New(cfg Config, budget *BudgetTracker) *Scheduler {
	if budget == nil {
		panic("budget tracker cannot be nil")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig(cfg.MonthlyExecutionCeiling).TickInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig(cfg.MonthlyExecutionCeiling).RunTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig(cfg.MonthlyExecutionCeiling).MaxBackoff
	}
	return &Scheduler{
		config: cfg,
		budget: budget,
		logger: logging.NewLogger("scheduler"),
		jobs:   make(map[string]*jobEntry),
		now:    time.Now,
	}
}

// Register adds a job. It validates the cadence and rejects the job
// with a *BudgetError when the projected monthly executions of all
// registered jobs (including this one) would exceed the ceiling.
// Registration happens at startup, so budget violations fail fast
// instead of surfacing as runtime throttling.
func (s *Scheduler) Register(desc Descriptor, runner Runner) error {
	if desc.Name == "" {
		return fmt.Errorf("job name required")
	}
	if runner == nil {
		return fmt.Errorf("job %q: runner required", desc.Name)
	}
	if err := desc.Cadence.Validate(); err != nil {
		return fmt.Errorf("job %q: %w", desc.Name, err)
	}
	if desc.BudgetWeight == 0 {
		desc.BudgetWeight = 1
	}
	if desc.BudgetWeight < 0 {
		return fmt.Errorf("job %q: budget weight must be positive", desc.Name)
	}
	if desc.MaxRetries < 0 {
		return fmt.Errorf("job %q: max retries must be >= 0", desc.Name)
	}
	if desc.RetryBackoff <= 0 {
		desc.RetryBackoff = time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[desc.Name]; dup {
		return fmt.Errorf("job %q already registered", desc.Name)
	}

	projected := desc.Cadence.ExecutionsPerDay() * desc.BudgetWeight
	for _, j := range s.jobs {
		projected += j.desc.Cadence.ExecutionsPerDay() * j.desc.BudgetWeight
	}
	projected *= daysPerMonth
	if ceiling := s.budget.Ceiling(); ceiling > 0 && projected > float64(ceiling) {
		return &BudgetError{Job: desc.Name, ProjectedMonthly: projected, Ceiling: ceiling}
	}

	s.jobs[desc.Name] = &jobEntry{
		desc:     desc,
		runner:   runner,
		nextFire: desc.Cadence.NextFireTime(s.now()),
	}
	s.logger.Info().
		Str("job", desc.Name).
		Str("cadence", desc.Cadence.String()).
		Float64("projected_monthly", projected).
		Msg("Job registered")
	return nil
}

// Run drives the timer loop until ctx is cancelled, then waits for
// in-flight jobs to finish. In-flight jobs see the cancellation through
// their own contexts; because cache writes are whole-value replaces, an
// aborted run leaves the previous entries intact.
func (s *Scheduler) Run(ctx context.Context) {
	// Manual triggers launch under this context too, so every run sees
	// shutdown cancellation.
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.budget.Load(ctx)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("tick_interval", s.config.TickInterval).
		Int("jobs", len(s.jobs)).
		Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopping, waiting for in-flight jobs")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue launches every job whose fire time has passed. A job
// still running from a previous tick is skipped; its next fire time
// advances so the missed tick is not replayed.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*jobEntry
	for _, j := range s.jobs {
		j.mu.Lock()
		if !now.Before(j.nextFire) {
			j.nextFire = j.desc.Cadence.NextFireTime(now)
			due = append(due, j)
		}
		j.mu.Unlock()
	}
	s.mu.Unlock()

	for _, j := range due {
		s.launch(ctx, j, "cadence")
	}
}

// Trigger force-runs a named job immediately, bypassing its cadence.
// The per-job run lock still applies: a collision returns
// ErrAlreadyRunning rather than queueing a second run.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if ctx == nil {
		// Scheduler loop not started (trigger-only usage).
		ctx = context.Background()
	}

	if !s.launch(ctx, j, "manual") {
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, name)
	}
	return nil
}

// launch starts a run on its own goroutine if the job lock is free.
func (s *Scheduler) launch(ctx context.Context, j *jobEntry, trigger string) bool {
	if !j.tryAcquire() {
		s.logger.Debug().Str("job", j.desc.Name).Str("trigger", trigger).Msg("Run in progress, skipping")
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.release()
		s.runWithRetries(ctx, j, trigger)
	}()
	return true
}

// runWithRetries executes one run: the initial attempt plus up to
// MaxRetries retries with capped exponential backoff. Retry storms are
// impossible: after the last attempt the job simply waits for its next
// cadence tick.
func (s *Scheduler) runWithRetries(ctx context.Context, j *jobEntry, trigger string) {
	name := j.desc.Name
	start := time.Now()
	s.budget.Record(ctx)

	logger := s.logger.With().Str("job", name).Str("trigger", trigger).Logger()
	logger.Info().Msg("Job run started")

	var lastErr error
	for attempt := 0; attempt <= j.desc.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.backoffFor(j.desc.RetryBackoff, attempt)
			jobRetries.WithLabelValues(name).Inc()
			logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying after backoff")

			select {
			case <-ctx.Done():
				s.recordFailure(j, ctx.Err())
				jobRuns.WithLabelValues(name, "cancelled").Inc()
				logger.Warn().Msg("Run cancelled during backoff")
				return
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
		err := j.runner.Run(attemptCtx)
		cancel()

		if err == nil {
			j.mu.Lock()
			j.lastSuccess = time.Now()
			j.lastError = ""
			j.mu.Unlock()
			jobRuns.WithLabelValues(name, "success").Inc()
			jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			jobLastSuccess.WithLabelValues(name).SetToCurrentTime()
			logger.Info().Int("attempt", attempt).Dur("duration", time.Since(start)).Msg("Job run succeeded")
			return
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Msg("Job attempt failed")

		if ctx.Err() != nil {
			s.recordFailure(j, ctx.Err())
			jobRuns.WithLabelValues(name, "cancelled").Inc()
			return
		}
	}

	s.recordFailure(j, lastErr)
	jobRuns.WithLabelValues(name, "failure").Inc()
	jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	logger.Error().
		Err(lastErr).
		Int("attempts", j.desc.MaxRetries+1).
		Msg("Job run failed, waiting for next cadence tick")
}

// backoffFor returns the jittered wait before retry attempt n (n >= 1):
// base doubled per attempt, capped at MaxBackoff, ±20% jitter. Doubling
// stops at the cap, so large attempt counts can never overflow the
// duration into a zero wait.
func (s *Scheduler) backoffFor(base time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 1; i < attempt && backoff < s.config.MaxBackoff; i++ {
		backoff <<= 1
	}
	if backoff > s.config.MaxBackoff {
		backoff = s.config.MaxBackoff
	}
	// ±20% jitter
	return time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
}

func (s *Scheduler) recordFailure(j *jobEntry, err error) {
	j.mu.Lock()
	j.lastFailure = time.Now()
	if err != nil {
		j.lastError = err.Error()
	}
	j.mu.Unlock()
}

// Status returns a snapshot of every registered job, sorted by name.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	entries := make([]*jobEntry, 0, len(s.jobs))
	for _, j := range s.jobs {
		entries = append(entries, j)
	}
	s.mu.Unlock()

	statuses := make([]Status, 0, len(entries))
	for _, j := range entries {
		j.mu.Lock()
		st := Status{
			Name:        j.desc.Name,
			State:       StateIdle,
			NextFire:    j.nextFire,
			LastSuccess: j.lastSuccess,
			LastFailure: j.lastFailure,
			LastError:   j.lastError,
		}
		if j.running {
			st.State = StateRunning
		}
		j.mu.Unlock()
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(a, b int) bool { return statuses[a].Name < statuses[b].Name })
	return statuses
}
