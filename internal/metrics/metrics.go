// Package metrics holds the Prometheus instruments for the feed cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Regeneration
	RegenerationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_regeneration_runs_total",
			Help: "Total number of regeneration jobs run",
		},
		[]string{"trigger"},
	)

	RegenerationUsers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_regeneration_users_total",
			Help: "Users attempted by regeneration jobs, by outcome",
		},
		[]string{"trigger", "outcome"}, // outcome: "success", "failure", "skipped"
	)

	RegenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedcache_regeneration_duration_seconds",
			Help:    "Wall time of a regeneration job",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"trigger"},
	)

	CacheRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcache_cache_rows_written_total",
			Help: "Cache rows upserted after successful scorer calls",
		},
	)

	CacheRowsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcache_cache_rows_purged_total",
			Help: "Expired cache rows physically removed",
		},
	)

	// Scorer
	ScorerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedcache_scorer_request_duration_seconds",
			Help:    "Latency of scorer invocations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedcache_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Feed reader
	FeedPageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_feed_page_requests_total",
			Help: "Feed page reads, by outcome",
		},
		[]string{"outcome"}, // "ok", "end", "error"
	)

	MalformedCursors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcache_malformed_cursors_total",
			Help: "Cursors that failed to decode and restarted from the first page",
		},
	)
)
