// Package config loads the subsystem configuration from a YAML file
// with environment variable overrides. It is read once at startup; the
// resolved values (including the namespace environment) are injected
// into components, never re-read from ambient state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perswall/site-cache/pkg/namespace"
	"github.com/perswall/site-cache/pkg/scheduler"
)

// Config is the top-level configuration.
type Config struct {
	Environment struct {
		// Kind is "production", "preview" or "local".
		Kind string `yaml:"kind"`
		// Discriminator is the preview build identifier or local
		// developer identity. Must be empty for production.
		Discriminator string `yaml:"discriminator"`
	} `yaml:"environment"`

	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`

	Server struct {
		Port int `yaml:"port"`
		// RefreshToken is the shared secret for the manual refresh
		// trigger endpoint.
		RefreshToken string `yaml:"refreshToken"`
	} `yaml:"server"`

	Scheduler struct {
		// MonthlyExecutionCeiling is the billing-tier budget.
		MonthlyExecutionCeiling int    `yaml:"monthlyExecutionCeiling"`
		TickInterval            string `yaml:"tickInterval"`
		RunTimeout              string `yaml:"runTimeout"`
	} `yaml:"scheduler"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	// Jobs are the refresh jobs to register.
	Jobs []JobConfig `yaml:"jobs"`

	// TrackedKeys drive the health endpoint and the diagnostics CLI.
	// Defaults to the logical keys of all configured jobs.
	TrackedKeys []string `yaml:"trackedKeys"`

	Replication struct {
		// QuickKeys is the default replication subset; FullKeys is the
		// complete one. Both default to the tracked keys.
		QuickKeys []string `yaml:"quickKeys"`
		FullKeys  []string `yaml:"fullKeys"`
		// Exclusions extend the built-in security exclusion patterns.
		Exclusions []string `yaml:"exclusions"`
	} `yaml:"replication"`
}

// JobConfig configures one refresh job.
type JobConfig struct {
	Name string `yaml:"name"`
	// Key is the logical cache key the job maintains.
	Key string `yaml:"key"`
	// URL is the upstream endpoint fetched over HTTP.
	URL string `yaml:"url"`
	// AuthHeader optionally carries "Name: value" for the upstream.
	AuthHeader string `yaml:"authHeader"`

	// Interval and Hours configure the cadence; exactly one is set.
	Interval string `yaml:"interval"`
	Hours    []int  `yaml:"hours"`

	TTL          string  `yaml:"ttl"`
	SnapshotTTL  string  `yaml:"snapshotTtl"`
	MaxRetries   int     `yaml:"maxRetries"`
	RetryBackoff string  `yaml:"retryBackoff"`
	BudgetWeight float64 `yaml:"budgetWeight"`
}

// Load reads and validates the configuration file, then applies
// environment variable overrides (CACHE_ENV, CACHE_ENV_DISCRIMINATOR,
// REDIS_ADDR, PORT, REFRESH_TOKEN, LOG_LEVEL).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyOverrides(cfg *Config) {
	if v := os.Getenv("CACHE_ENV"); v != "" {
		cfg.Environment.Kind = v
	}
	if v := os.Getenv("CACHE_ENV_DISCRIMINATOR"); v != "" {
		cfg.Environment.Discriminator = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REFRESH_TOKEN"); v != "" {
		cfg.Server.RefreshToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Scheduler.MonthlyExecutionCeiling == 0 {
		cfg.Scheduler.MonthlyExecutionCeiling = 4000
	}
	if len(cfg.TrackedKeys) == 0 {
		for _, job := range cfg.Jobs {
			cfg.TrackedKeys = append(cfg.TrackedKeys, job.Key)
		}
	}
	if len(cfg.Replication.QuickKeys) == 0 {
		cfg.Replication.QuickKeys = cfg.TrackedKeys
	}
	if len(cfg.Replication.FullKeys) == 0 {
		cfg.Replication.FullKeys = cfg.Replication.QuickKeys
	}
}

func (c *Config) validate() error {
	if _, err := c.ResolveEnvironment(); err != nil {
		return err
	}
	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d]: name required", i)
		}
		if job.Key == "" {
			return fmt.Errorf("job %q: key required", job.Name)
		}
		if job.URL == "" {
			return fmt.Errorf("job %q: url required", job.Name)
		}
		if _, err := job.ToDescriptor(); err != nil {
			return err
		}
	}
	return nil
}

// ResolveEnvironment builds and validates the namespace environment.
// Called once by the entry point; a missing discriminator fails fast
// here instead of silently defaulting to the production namespace.
func (c *Config) ResolveEnvironment() (namespace.Environment, error) {
	env := namespace.Environment{
		Kind:          namespace.Kind(c.Environment.Kind),
		Discriminator: c.Environment.Discriminator,
	}
	if err := env.Validate(); err != nil {
		return namespace.Environment{}, err
	}
	return env, nil
}

// SchedulerConfig builds the scheduler configuration.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	cfg := scheduler.DefaultConfig(c.Scheduler.MonthlyExecutionCeiling)
	if c.Scheduler.TickInterval != "" {
		d, err := time.ParseDuration(c.Scheduler.TickInterval)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.tickInterval: %w", err)
		}
		cfg.TickInterval = d
	}
	if c.Scheduler.RunTimeout != "" {
		d, err := time.ParseDuration(c.Scheduler.RunTimeout)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.runTimeout: %w", err)
		}
		cfg.RunTimeout = d
	}
	return cfg, nil
}

// ToDescriptor converts a job config into a scheduler descriptor.
func (j JobConfig) ToDescriptor() (scheduler.Descriptor, error) {
	desc := scheduler.Descriptor{
		Name:         j.Name,
		MaxRetries:   j.MaxRetries,
		BudgetWeight: j.BudgetWeight,
	}

	switch {
	case j.Interval != "" && len(j.Hours) > 0:
		return scheduler.Descriptor{}, fmt.Errorf("job %q: interval and hours are mutually exclusive", j.Name)
	case j.Interval != "":
		d, err := time.ParseDuration(j.Interval)
		if err != nil {
			return scheduler.Descriptor{}, fmt.Errorf("job %q: interval: %w", j.Name, err)
		}
		desc.Cadence = scheduler.Every(d)
	case len(j.Hours) > 0:
		desc.Cadence = scheduler.AtHours(j.Hours...)
	default:
		return scheduler.Descriptor{}, fmt.Errorf("job %q: interval or hours required", j.Name)
	}

	if j.RetryBackoff != "" {
		d, err := time.ParseDuration(j.RetryBackoff)
		if err != nil {
			return scheduler.Descriptor{}, fmt.Errorf("job %q: retryBackoff: %w", j.Name, err)
		}
		desc.RetryBackoff = d
	}
	return desc, nil
}

// TTLs parses the job's cache TTLs, applying defaults: the primary TTL
// defaults to twice the interval (or 25h for hour-set cadences), the
// snapshot TTL to a week.
func (j JobConfig) TTLs() (primary, snapshot time.Duration, err error) {
	primary = 25 * time.Hour
	if j.TTL != "" {
		primary, err = time.ParseDuration(j.TTL)
		if err != nil {
			return 0, 0, fmt.Errorf("job %q: ttl: %w", j.Name, err)
		}
	} else if j.Interval != "" {
		if d, derr := time.ParseDuration(j.Interval); derr == nil {
			primary = 2 * d
		}
	}

	snapshot = 7 * 24 * time.Hour
	if j.SnapshotTTL != "" {
		snapshot, err = time.ParseDuration(j.SnapshotTTL)
		if err != nil {
			return 0, 0, fmt.Errorf("job %q: snapshotTtl: %w", j.Name, err)
		}
	}
	if snapshot <= primary {
		return 0, 0, fmt.Errorf("job %q: snapshotTtl must outlive ttl", j.Name)
	}
	return primary, snapshot, nil
}
