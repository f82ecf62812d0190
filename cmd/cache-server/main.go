// cache-server runs the refresh scheduler and the HTTP surface
// (cache health, manual refresh trigger, metrics) for one environment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perswall/site-cache/internal/config"
	"github.com/perswall/site-cache/internal/server"
	"github.com/perswall/site-cache/pkg/cache"
	"github.com/perswall/site-cache/pkg/diagnostics"
	"github.com/perswall/site-cache/pkg/logging"
	"github.com/perswall/site-cache/pkg/refresh"
	"github.com/perswall/site-cache/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "cache.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache-server: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	// The environment is resolved exactly once, here, and injected into
	// every component below.
	env, err := cfg.ResolveEnvironment()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid environment configuration")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Cannot reach Redis")
	}
	logger.Info().
		Str("addr", cfg.Redis.Addr).
		Str("environment", string(env.Kind)).
		Msg("Connected to Redis")

	store := cache.NewClient(redisClient, cache.DefaultClientConfig())

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid scheduler configuration")
	}
	budget := scheduler.NewBudgetTracker(schedCfg.MonthlyExecutionCeiling, store, env)
	sched := scheduler.New(schedCfg, budget)

	for _, jobCfg := range cfg.Jobs {
		desc, err := jobCfg.ToDescriptor()
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid job configuration")
		}
		primaryTTL, snapshotTTL, err := jobCfg.TTLs()
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid job TTLs")
		}

		var opts []refresh.HTTPOption
		if jobCfg.AuthHeader != "" {
			name, value, ok := cutHeader(jobCfg.AuthHeader)
			if !ok {
				logger.Fatal().Str("job", jobCfg.Name).Msg("authHeader must be \"Name: value\"")
			}
			opts = append(opts, refresh.WithHeader(name, value))
		}
		provider := refresh.NewHTTPProvider(jobCfg.URL, "site-cache/1.0", opts...)

		job, err := refresh.NewJob(refresh.Config{
			LogicalKey:  jobCfg.Key,
			PrimaryTTL:  primaryTTL,
			SnapshotTTL: snapshotTTL,
		}, provider, nil, store, env)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid refresh job")
		}

		// Registration fails fast when the cadence blows the budget.
		if err := sched.Register(desc, job); err != nil {
			logger.Fatal().Err(err).Str("job", jobCfg.Name).Msg("Job registration rejected")
		}
	}

	reporter := diagnostics.NewReporter(store, env)
	srv := server.New(reporter, sched, cfg.TrackedKeys, cfg.Server.RefreshToken)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	// Blocks until shutdown; in-flight jobs finish or see cancellation.
	sched.Run(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown did not finish cleanly")
	}
	logger.Info().Msg("cache-server stopped")
}

// cutHeader splits "Name: value" into its parts.
func cutHeader(s string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	return name, value, ok && name != "" && value != ""
}
