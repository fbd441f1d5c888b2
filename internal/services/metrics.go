package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain-level Prometheus metrics. HTTP-level metrics (request counts,
// latencies) live in the middleware; these count what the pipeline did with
// the events once they were accepted.
var (
	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_webhook_events_total",
			Help: "Webhook events recorded, by kind (message|status).",
		},
		[]string{"kind"},
	)

	turnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_turns_processed_total",
			Help: "Conversation turns handled, by turn kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	agentLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_agent_latency_seconds",
			Help:    "Latency of agent invocations.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
)
