// Package integration exercises the full subsystem against a real Redis
// container: refresh job writes, the three-tier read path, budget window
// persistence, and cross-environment replication.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/perswall/site-cache/internal/testutil"
	"github.com/perswall/site-cache/pkg/cache"
	"github.com/perswall/site-cache/pkg/namespace"
	"github.com/perswall/site-cache/pkg/refresh"
	"github.com/perswall/site-cache/pkg/replicate"
	"github.com/perswall/site-cache/pkg/scheduler"
)

var prodEnv = namespace.Environment{Kind: namespace.Production}

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newJob(t *testing.T, store cache.Store, provider refresh.Provider, env namespace.Environment) *refresh.Job {
	t.Helper()
	job, err := refresh.NewJob(refresh.Config{
		LogicalKey:  "contributions:user",
		PrimaryTTL:  time.Hour,
		SnapshotTTL: 7 * 24 * time.Hour,
	}, provider, nil, store, env)
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	return job
}

// TestRefreshToReadRoundTrip drives a refresh job against Redis and
// verifies the reader serves the written payload as fresh upstream data.
func TestRefreshToReadRoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.RespondJSON("/v1/contributions", `{"total":120}`)

	store := cache.NewClient(redisClient, cache.DefaultClientConfig())
	provider := refresh.NewHTTPProvider(upstream.URL()+"/v1/contributions", "site-cache-test/1.0")
	job := newJob(t, store, provider, prodEnv)

	ctx := context.Background()
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reader := cache.NewReader(store, prodEnv)
	result := reader.Read(ctx, "contributions:user", json.RawMessage(`{"total":0}`))

	if result.Source != cache.SourceUpstream {
		t.Errorf("Source = %q, want %q", result.Source, cache.SourceUpstream)
	}
	if !result.Fresh || !result.OK {
		t.Errorf("Fresh = %v, OK = %v, want both true", result.Fresh, result.OK)
	}
	if string(result.Payload) != `{"total":120}` {
		t.Errorf("Payload = %s", result.Payload)
	}
}

// TestSnapshotServesAfterPrimaryExpiry writes both tiers, deletes the
// primary (as Redis expiry would), and verifies the reader degrades to
// the fallback snapshot.
func TestSnapshotServesAfterPrimaryExpiry(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.RespondJSON("/v1/contributions", `{"total":120}`)

	store := cache.NewClient(redisClient, cache.DefaultClientConfig())
	provider := refresh.NewHTTPProvider(upstream.URL()+"/v1/contributions", "site-cache-test/1.0")
	job := newJob(t, store, provider, prodEnv)

	ctx := context.Background()
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := store.Delete(ctx, "contributions:user"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	reader := cache.NewReader(store, prodEnv)
	result := reader.Read(ctx, "contributions:user", json.RawMessage(`{}`))

	if result.Source != cache.SourceFallbackSnapshot {
		t.Errorf("Source = %q, want %q", result.Source, cache.SourceFallbackSnapshot)
	}
	if result.Fresh {
		t.Error("Fresh = true for a snapshot read")
	}
	if string(result.Payload) != `{"total":120}` {
		t.Errorf("Payload = %s", result.Payload)
	}
}

// TestFailedRefreshLeavesEntriesIntact verifies an upstream outage never
// clobbers previously cached data.
func TestFailedRefreshLeavesEntriesIntact(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.RespondJSON("/v1/contributions", `{"total":120}`)

	store := cache.NewClient(redisClient, cache.DefaultClientConfig())
	provider := refresh.NewHTTPProvider(upstream.URL()+"/v1/contributions", "site-cache-test/1.0")
	job := newJob(t, store, provider, prodEnv)

	ctx := context.Background()
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Upstream starts failing.
	upstream.RespondStatus("/v1/contributions", 503)
	if err := job.Run(ctx); !errors.Is(err, refresh.ErrUpstreamFetch) {
		t.Fatalf("Run() error = %v, want ErrUpstreamFetch", err)
	}

	entry, err := store.Get(ctx, "contributions:user")
	if err != nil {
		t.Fatalf("Get() after failed refresh: %v", err)
	}
	if string(entry.Payload) != `{"total":120}` {
		t.Errorf("Payload = %s, want previous data intact", entry.Payload)
	}
}

// TestBudgetWindowSurvivesRestart persists the execution counter through
// Redis and verifies a fresh tracker resumes mid-window.
func TestBudgetWindowSurvivesRestart(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := cache.NewClient(redisClient, cache.DefaultClientConfig())
	ctx := context.Background()

	first := scheduler.NewBudgetTracker(1000, store, prodEnv)
	first.Load(ctx)
	first.Record(ctx)
	first.Record(ctx)
	first.Record(ctx)

	second := scheduler.NewBudgetTracker(1000, store, prodEnv)
	second.Load(ctx)
	if second.Used() != 3 {
		t.Errorf("Used() after restart = %d, want 3", second.Used())
	}
}

// TestReplicationAcrossNamespaces copies production entries into a
// preview namespace through a real Redis instance.
func TestReplicationAcrossNamespaces(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := cache.NewClient(redisClient, cache.DefaultClientConfig())
	ctx := context.Background()

	for _, key := range []string{"contributions:user", "badges:summary"} {
		entry := cache.NewEntry(json.RawMessage(`{"key":"`+key+`"}`), time.Hour)
		if err := store.Set(ctx, key, entry, time.Hour); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	previewEnv := namespace.Environment{Kind: namespace.Preview, Discriminator: "pr-7"}
	replicator := replicate.New(store, replicate.DefaultConfig())
	report, err := replicator.Replicate(ctx, replicate.Request{
		Keys:       []string{"contributions:user", "badges:summary", "session:abc"},
		Source:     prodEnv,
		Dest:       previewEnv,
		Exclusions: replicate.DefaultExclusions,
	})
	if err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}
	if report.Copied != 2 {
		t.Errorf("Copied = %d, want 2", report.Copied)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}

	reader := cache.NewReader(store, previewEnv)
	result := reader.Read(ctx, "contributions:user", json.RawMessage(`{}`))
	if result.Source != cache.SourceUpstream {
		t.Errorf("preview read Source = %q, want fresh copy", result.Source)
	}
}
