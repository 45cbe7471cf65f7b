// Package telemetry provides application-level observability for Compliance Hub.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<CMP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds.  It is NOT served by
// the Gin router, so it stays off the public ingress and outside the rate limiter.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Session cache hit/miss/rebuild counters and build latency
//   - Identity provider call counters, including rate-limited (429) responses
//   - Identity sync job duration and error counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/organizations/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as organization or user IDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Session materialization metrics — recorded by the session service and builder.
//
// SessionCacheResults counts the outcome of every cache-gate decision with
// label {result}: "hit" (fresh snapshot served), "stale" (age threshold
// exceeded), "miss" (no snapshot in the cache), or "forced" (caller bypassed
// the gate). Cache effectiveness is hit / sum(all).
//
// SessionRebuildsTotal counts full snapshot rebuilds; SessionBuildDuration
// observes how long one build takes, including all record store round-trips.
//
// SessionMembershipsDroppedTotal counts memberships omitted from a snapshot
// because the referenced organization no longer resolves. A nonzero rate
// means dangling membership references exist in the record store.
//
// Example PromQL queries:
//   - Cache hit ratio:  sum(rate(session_cache_results_total{result="hit"}[1h])) / sum(rate(session_cache_results_total[1h]))
//   - Rebuild rate:     rate(session_rebuilds_total[5m])
var (
	SessionCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_cache_results_total",
			Help: "Total number of session cache-gate decisions, by result (hit, stale, miss, forced).",
		},
		[]string{"result"},
	)

	SessionRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_rebuilds_total",
			Help: "Total number of session snapshot rebuilds.",
		},
	)

	SessionBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_build_duration_seconds",
			Help:    "Duration of a single session snapshot build, including record store lookups.",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionMembershipsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_memberships_dropped_total",
			Help: "Total number of memberships dropped from snapshots due to unresolvable organizations.",
		},
	)
)

// Identity provider metrics — recorded by the identity API client.
//
// IdentityAPICallsTotal has labels {operation, status}; status is the HTTP
// status class ("2xx", "429", "5xx", "error"). The 429 series matters
// operationally: snapshot pushes are silently skipped when the provider rate
// limits, so a sustained 429 rate means the session cache is not being
// refreshed and every request pays the rebuild cost.
//
// Example PromQL queries:
//   - Rate-limited calls:  sum(rate(identity_api_calls_total{status="429"}[5m]))
//   - Provider error rate: sum(rate(identity_api_calls_total{status=~"5xx|error"}[5m]))
var IdentityAPICallsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_api_calls_total",
		Help: "Total number of identity provider API calls, by operation and status class.",
	},
	[]string{"operation", "status"},
)

// IdentityWebhookEventsTotal counts inbound provider webhook deliveries, by
// event type and outcome ("processed", "ignored", "rejected", "error").
var IdentityWebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_webhook_events_total",
		Help: "Total number of identity provider webhook deliveries, by event type and outcome.",
	},
	[]string{"type", "result"},
)

// Identity sync job metrics — recorded by the identity_sync background job.
//
// Example PromQL queries:
//   - p95 sync duration:  histogram_quantile(0.95, rate(identity_sync_duration_seconds_bucket[6h]))
//   - Alert expression:   increase(identity_sync_errors_total[2h]) > 3
var (
	IdentitySyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identity_sync_duration_seconds",
			Help:    "Duration of a single identity provider reconciliation cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)

	IdentitySyncErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_sync_errors_total",
			Help: "Total number of failed identity sync cycles.",
		},
	)

	IdentitySyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sync_records_total",
			Help: "Total number of records reconciled from the identity provider, by kind (user, organization).",
		},
		[]string{"kind"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
