package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perswall/site-cache/pkg/namespace"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullConfig = `
environment:
  kind: preview
  discriminator: pr-42
redis:
  addr: redis.internal:6379
  db: 2
server:
  port: 9090
  refreshToken: hunter2
scheduler:
  monthlyExecutionCeiling: 2000
  tickInterval: 15s
  runTimeout: 90s
logging:
  level: debug
jobs:
  - name: contributions
    key: contributions:user
    url: https://api.example.com/v1/contributions
    interval: 6h
    ttl: 13h
    snapshotTtl: 168h
    maxRetries: 2
    retryBackoff: 5s
  - name: badges
    key: badges:summary
    url: https://api.example.com/v1/badges
    hours: [6, 18]
replication:
  quickKeys: [contributions:user]
  exclusions: ["*:internal"]
`

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Server.RefreshToken)
	assert.Equal(t, 2000, cfg.Scheduler.MonthlyExecutionCeiling)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Jobs, 2)

	env, err := cfg.ResolveEnvironment()
	require.NoError(t, err)
	assert.Equal(t, namespace.Preview, env.Kind)
	assert.Equal(t, "pr-42", env.Discriminator)

	sched, err := cfg.SchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, 2000, sched.MonthlyExecutionCeiling)
	assert.Equal(t, 15*time.Second, sched.TickInterval)
	assert.Equal(t, 90*time.Second, sched.RunTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment:
  kind: production
jobs:
  - name: contributions
    key: contributions:user
    url: https://api.example.com/v1/contributions
    interval: 6h
`))
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4000, cfg.Scheduler.MonthlyExecutionCeiling)

	// Tracked and replication key lists default to the job keys.
	assert.Equal(t, []string{"contributions:user"}, cfg.TrackedKeys)
	assert.Equal(t, []string{"contributions:user"}, cfg.Replication.QuickKeys)
	assert.Equal(t, []string{"contributions:user"}, cfg.Replication.FullKeys)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CACHE_ENV", "local")
	t.Setenv("CACHE_ENV_DISCRIMINATOR", "dev-jane")
	t.Setenv("REDIS_ADDR", "override:6380")
	t.Setenv("PORT", "3000")
	t.Setenv("REFRESH_TOKEN", "envtoken")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	env, err := cfg.ResolveEnvironment()
	require.NoError(t, err)
	assert.Equal(t, namespace.Local, env.Kind)
	assert.Equal(t, "dev-jane", env.Discriminator)
	assert.Equal(t, "override:6380", cfg.Redis.Addr)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "envtoken", cfg.Server.RefreshToken)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "preview without discriminator",
			yaml: `
environment:
  kind: preview
`,
			wantErr: "discriminator",
		},
		{
			name: "production with discriminator",
			yaml: `
environment:
  kind: production
  discriminator: oops
`,
			wantErr: "discriminator",
		},
		{
			name: "job without cadence",
			yaml: `
environment:
  kind: production
jobs:
  - name: contributions
    key: contributions:user
    url: https://api.example.com/v1
`,
			wantErr: "interval or hours",
		},
		{
			name: "job with both cadences",
			yaml: `
environment:
  kind: production
jobs:
  - name: contributions
    key: contributions:user
    url: https://api.example.com/v1
    interval: 6h
    hours: [6]
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "job without url",
			yaml: `
environment:
  kind: production
jobs:
  - name: contributions
    key: contributions:user
    interval: 6h
`,
			wantErr: "url required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestJobConfig_TTLs(t *testing.T) {
	tests := []struct {
		name         string
		job          JobConfig
		wantPrimary  time.Duration
		wantSnapshot time.Duration
		wantErr      bool
	}{
		{
			name:         "explicit values",
			job:          JobConfig{Name: "j", TTL: "13h", SnapshotTTL: "168h"},
			wantPrimary:  13 * time.Hour,
			wantSnapshot: 168 * time.Hour,
		},
		{
			name:         "primary defaults to twice the interval",
			job:          JobConfig{Name: "j", Interval: "6h"},
			wantPrimary:  12 * time.Hour,
			wantSnapshot: 7 * 24 * time.Hour,
		},
		{
			name:         "hour-set cadence defaults",
			job:          JobConfig{Name: "j", Hours: []int{6, 18}},
			wantPrimary:  25 * time.Hour,
			wantSnapshot: 7 * 24 * time.Hour,
		},
		{
			name:    "snapshot not outliving primary",
			job:     JobConfig{Name: "j", TTL: "48h", SnapshotTTL: "24h"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, snapshot, err := tt.job.TTLs()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrimary, primary)
			assert.Equal(t, tt.wantSnapshot, snapshot)
		})
	}
}
