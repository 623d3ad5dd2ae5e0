// Package metrics holds the Prometheus collectors shared across packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCalls counts provider calls by outcome ("ok", "error").
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raptree_provider_calls_total",
		Help: "Provider calls by provider, stage and outcome",
	}, []string{"provider", "stage", "outcome"})

	// ProviderRetries counts retried provider attempts.
	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raptree_provider_retries_total",
		Help: "Retried provider attempts",
	}, []string{"provider", "stage"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raptree_provider_duration_seconds",
		Help:    "Provider call duration in seconds, retries included",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"provider", "stage"})

	// Builds counts tree builds by outcome.
	Builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raptree_builds_total",
		Help: "Tree builds by outcome",
	}, []string{"outcome"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "raptree_build_duration_seconds",
		Help:    "Tree build duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	})

	// Retrievals counts retrievals by traversal mode ("collapsed", "layered").
	Retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raptree_retrievals_total",
		Help: "Retrievals by traversal mode",
	}, []string{"mode"})

	// ContextTokens tracks the size of assembled contexts.
	ContextTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "raptree_context_tokens",
		Help:    "Token count of assembled retrieval contexts",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 3500, 8000},
	})

	// TreeNodes reports the node count of the current tree per layer.
	TreeNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "raptree_tree_nodes",
		Help: "Nodes in the current tree by layer",
	}, []string{"layer"})
)
