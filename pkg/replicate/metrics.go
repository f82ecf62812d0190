package replicate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// replicatedKeys tracks per-key replication outcomes.
var replicatedKeys = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sitecache_replicated_keys_total",
		Help: "Total replication key outcomes",
	},
	[]string{"outcome"}, // "copied", "skipped", "failed"
)
