// cache-replicate copies a restricted key subset from the production
// namespace into a lower environment. One-directional by construction:
// the tool refuses a production destination. Always prints a per-key
// outcome table; --dry-run reports without writing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perswall/site-cache/internal/config"
	"github.com/perswall/site-cache/pkg/cache"
	"github.com/perswall/site-cache/pkg/logging"
	"github.com/perswall/site-cache/pkg/namespace"
	"github.com/perswall/site-cache/pkg/replicate"
)

func main() {
	configPath := flag.String("config", "cache.yaml", "path to configuration file")
	dryRun := flag.Bool("dry-run", false, "report what would be copied without writing")
	full := flag.Bool("full", false, "replicate the full key subset instead of the quick one")
	destKind := flag.String("dest-kind", "preview", "destination environment kind (preview or local)")
	destID := flag.String("dest-id", "", "destination discriminator (required)")
	flag.Parse()

	logging.Setup(logging.Config{Level: logging.LevelWarn, Output: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache-replicate: %v\n", err)
		os.Exit(2)
	}
	if *destID == "" {
		fmt.Fprintln(os.Stderr, "cache-replicate: --dest-id is required")
		os.Exit(2)
	}

	keys := cfg.Replication.QuickKeys
	if *full {
		keys = cfg.Replication.FullKeys
	}
	exclusions := append(replicate.ExclusionPatterns{}, replicate.DefaultExclusions...)
	exclusions = append(exclusions, cfg.Replication.Exclusions...)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	store := cache.NewClient(redisClient, cache.DefaultClientConfig())
	replicator := replicate.New(store, replicate.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := replicator.Replicate(ctx, replicate.Request{
		Keys:       keys,
		Source:     namespace.Environment{Kind: namespace.Production},
		Dest:       namespace.Environment{Kind: namespace.Kind(*destKind), Discriminator: *destID},
		Exclusions: exclusions,
		DryRun:     *dryRun,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache-replicate: %v\n", err)
		os.Exit(2)
	}

	mode := "live"
	if report.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("replication (%s) to %s:%s\n\n", mode, *destKind, *destID)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tOUTCOME\tDETAIL")
	for _, result := range report.Results {
		detail := ""
		switch result.Outcome {
		case replicate.OutcomeSkipped:
			detail = "matched " + result.Pattern
		case replicate.OutcomeFailed:
			detail = result.Reason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", result.LogicalKey, result.Outcome, detail)
	}
	w.Flush()

	fmt.Printf("\ncopied %d, skipped %d, failed %d\n", report.Copied, report.Skipped, report.Failed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}
