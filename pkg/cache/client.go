package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/perswall/site-cache/pkg/logging"
)

var (
	// ErrMiss indicates the requested key was not found (or was expired).
	ErrMiss = errors.New("cache miss")

	// ErrUnavailable indicates the cache store could not be reached.
	// Connection failures are never reported as empty results; callers
	// decide how to degrade.
	ErrUnavailable = errors.New("cache unavailable")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the key-value contract the rest of the subsystem depends on.
// *Client is the Redis-backed implementation; tests substitute an
// in-memory fake.
type Store interface {
	// Get retrieves an entry. Returns ErrMiss when absent or expired,
	// ErrUnavailable when the store cannot be reached.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores an entry under key with the given TTL.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// MultiGet retrieves several keys at once. Keys absent from the
	// returned map were misses; a transport failure returns an error.
	MultiGet(ctx context.Context, keys []string) (map[string]*Entry, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Healthy reports whether the store answered a recent ping.
	Healthy(ctx context.Context) bool
}

// ClientConfig holds Client tuning knobs.
type ClientConfig struct {
	// OpTimeout bounds every store operation so a degraded store can
	// never block a request indefinitely.
	OpTimeout time.Duration

	// HealthCheckWindow is how long a ping result is reused before the
	// store is pinged again.
	HealthCheckWindow time.Duration
}

// DefaultClientConfig returns safe defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		OpTimeout:         3 * time.Second,
		HealthCheckWindow: 10 * time.Second,
	}
}

// Client is the Redis-backed Store implementation. It is safe for
// concurrent use; the underlying connection pool is shared by all
// readers and refresh jobs.
type Client struct {
	redis  *redis.Client
	config ClientConfig
	logger zerolog.Logger

	healthMu    sync.Mutex
	lastPing    time.Time
	lastHealthy bool
}

// NewClient creates a cache client over an existing Redis connection.
func NewClient(redisClient *redis.Client, cfg ClientConfig) *Client {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultClientConfig().OpTimeout
	}
	if cfg.HealthCheckWindow <= 0 {
		cfg.HealthCheckWindow = DefaultClientConfig().HealthCheckWindow
	}
	return &Client{
		redis:  redisClient,
		config: cfg,
		logger: logging.NewLogger("cache-client"),
	}
}

// Get retrieves an entry by fully-qualified key.
func (c *Client) Get(ctx context.Context, key string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			storeMisses.Inc()
			return nil, ErrMiss
		}
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Advisory TTL check; the store usually expires the key first, but
	// a primary entry past its TTL must read as a miss. The stale key is
	// left for Redis expiry so reads stay write-free (the diagnostics
	// reporter inspects through this same path).
	if entry.IsExpired() {
		storeMisses.Inc()
		return nil, ErrMiss
	}

	storeHits.Inc()
	return &entry, nil
}

// Set stores an entry with the given TTL. The write replaces the whole
// value; no merge ever happens.
func (c *Client) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive (got %s)", ttl)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	data, err := json.Marshal(entry)
	if err != nil {
		storeErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		storeErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}

	c.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cache entry written")
	return nil
}

// MultiGet retrieves several keys in one round trip via MGET.
func (c *Client) MultiGet(ctx context.Context, keys []string) (map[string]*Entry, error) {
	if len(keys) == 0 {
		return map[string]*Entry{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		storeErrors.WithLabelValues("mget").Inc()
		return nil, fmt.Errorf("%w: mget: %v", ErrUnavailable, err)
	}

	result := make(map[string]*Entry, len(keys))
	for i, value := range values {
		if value == nil {
			storeMisses.Inc()
			continue
		}
		raw, ok := value.(string)
		if !ok {
			storeErrors.WithLabelValues("mget").Inc()
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			c.logger.Warn().Str("key", keys[i]).Err(err).Msg("Skipping undecodable cache entry")
			storeErrors.WithLabelValues("mget").Inc()
			continue
		}
		if entry.IsExpired() {
			storeMisses.Inc()
			continue
		}
		storeHits.Inc()
		result[keys[i]] = &entry
	}
	return result, nil
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	if err := c.redis.Del(ctx, key).Err(); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("%w: del %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// TTLRemaining returns the store-side TTL for a key, or 0 when the key
// has no expiry or does not exist. Used by the diagnostics reporter.
func (c *Client) TTLRemaining(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	ttl, err := c.redis.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %v", ErrUnavailable, key, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Healthy reports whether the store answered a recent ping. The result
// is cached for HealthCheckWindow so a failing store is not hammered
// with health checks from every read.
func (c *Client) Healthy(ctx context.Context) bool {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if time.Since(c.lastPing) < c.config.HealthCheckWindow {
		return c.lastHealthy
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	err := c.redis.Ping(pingCtx).Err()
	c.lastPing = time.Now()
	c.lastHealthy = err == nil
	if err != nil {
		c.logger.Warn().Err(err).Msg("Cache store ping failed")
	}
	storeHealthy.Set(boolToFloat(c.lastHealthy))
	return c.lastHealthy
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
