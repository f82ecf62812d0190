package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobRuns tracks completed runs by outcome.
	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_scheduler_runs_total",
			Help: "Total refresh job runs by job and result",
		},
		[]string{"job", "result"}, // "success", "failure", "cancelled"
	)

	// jobRetries tracks retry attempts.
	jobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_scheduler_retries_total",
			Help: "Total refresh job retry attempts by job",
		},
		[]string{"job"},
	)

	// jobDuration tracks whole-run duration including retries.
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitecache_scheduler_run_duration_seconds",
			Help:    "Refresh job run duration in seconds by job",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"job"},
	)

	// jobLastSuccess is the unix time of the last successful run.
	jobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitecache_scheduler_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run by job",
		},
		[]string{"job"},
	)

	// budgetUsed is the executions counted in the current billing window.
	budgetUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitecache_scheduler_budget_used",
			Help: "Executions recorded in the current billing window",
		},
	)
)
