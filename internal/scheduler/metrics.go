package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// jobRuns counts job executions by outcome: completed, failed, or lost_claim
// when a concurrent poller won the job first.
var jobRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wa_job_runs_total",
		Help: "Scheduled job executions, by outcome.",
	},
	[]string{"outcome"},
)
