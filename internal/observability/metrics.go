package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishAttempts counts publish attempts by outcome
	// (published, insufficient_balance, upstream_failure, forbidden, invalid_state, error).
	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schooldesk_publish_attempts_total",
		Help: "Total number of blog publish attempts by outcome",
	}, []string{"outcome"})

	// LedgerEntries counts ledger entries appended by type.
	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schooldesk_ledger_entries_total",
		Help: "Total number of ledger entries appended by type",
	}, []string{"type"})

	// LedgerConflicts counts compare-and-swap conflicts that forced a retry.
	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schooldesk_ledger_conflicts_total",
		Help: "Total number of balance update conflicts retried by the ledger",
	})

	// SocialPosts counts dispatched social posts by platform and result.
	SocialPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schooldesk_social_posts_total",
		Help: "Total number of social post attempts by platform and result",
	}, []string{"platform", "result"})

	// TokenRefreshes counts credential checks by platform and result.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schooldesk_token_refresh_total",
		Help: "Total number of credential refresh or validation checks",
	}, []string{"platform", "result"})

	// UpstreamLatency records latency of calls to external collaborators.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schooldesk_upstream_latency_seconds",
		Help:    "Latency of external collaborator calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"upstream", "operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schooldesk_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// TrackUpstream returns a function that records upstream latency when called (e.g. defer).
func TrackUpstream(upstream, operation string) func() {
	start := time.Now()
	return func() {
		UpstreamLatency.WithLabelValues(upstream, operation).Observe(time.Since(start).Seconds())
	}
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// ResultLabel maps an error to the "ok"/"error" label used by result counters.
func ResultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
