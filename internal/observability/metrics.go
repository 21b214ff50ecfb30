// Package observability wires the tracing and metrics backends: an OTLP
// trace exporter for spans and Prometheus collectors for engine outcomes.
//
// This file exposes the Prometheus counters the engines feed. Label
// cardinality is kept deliberately small:
//
//   - type:    discovery run type ("replies" or "search")
//   - outcome: "success" or "error"
//   - kind:    what a cleanup cycle deleted ("expired", "dismissed",
//     "responses")
//
// All collectors are registered on the default registry and served by the
// promhttp handler on the ops listener. They are safe for concurrent use.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// DiscoveryRuns counts discovery runs by type and outcome. Runs that
	// fail before their schedule row is resolved are not counted.
	DiscoveryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_runs_total",
			Help: "Total number of discovery runs.",
		},
		[]string{"type", "outcome"},
	)

	// OpportunitiesCreated counts opportunities persisted by discovery.
	OpportunitiesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opportunities_created_total",
			Help: "Total number of opportunities persisted by discovery runs.",
		},
	)

	// OpportunitiesExpired counts pending opportunities marked expired.
	OpportunitiesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opportunities_expired_total",
			Help: "Total number of pending opportunities marked expired.",
		},
	)

	// CleanupDeleted counts rows removed by cleanup cycles, by kind.
	CleanupDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_deleted_rows_total",
			Help: "Total number of rows hard-deleted by cleanup cycles.",
		},
		[]string{"kind"},
	)

	// ResponsesPosted counts drafts successfully published to the platform.
	ResponsesPosted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "responses_posted_total",
			Help: "Total number of draft responses published to the platform.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DiscoveryRuns,
		OpportunitiesCreated,
		OpportunitiesExpired,
		CleanupDeleted,
		ResponsesPosted,
	)
}
