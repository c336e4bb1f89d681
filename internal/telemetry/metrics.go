// Package telemetry provides application-level observability for the vault gate.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<VG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds.  It is NOT served by
// the Gin router, so gate rate limits and session checks never apply to scrapes.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Authorization verdict counters (the gatekeeper's terminal outcomes)
//   - Key redemption and rate-limit counters
//   - Limiter backend fallback counter
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/vault/:slug) rather
// than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.  Verdict metrics are labelled by outcome and
// required tier, both small closed sets; member IDs and key hashes never
// appear as labels.
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

// Authorization metrics — incremented exactly once per terminal gatekeeper
// verdict, in lockstep with the audit event for the same decision.
//
// GateVerdictsTotal is a CounterVec with labels {outcome, required_tier} where
// outcome is one of granted, denied-auth, denied-tier, denied-rate-limit.
//
// Example PromQL queries:
//   - Denial rate by reason:   sum by (outcome) (rate(gate_verdicts_total{outcome!="granted"}[5m]))
//   - Grants by tier:          sum by (required_tier) (rate(gate_verdicts_total{outcome="granted"}[1h]))
var GateVerdictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gate_verdicts_total",
		Help: "Total number of gatekeeper authorization verdicts, by outcome and required tier.",
	},
	[]string{"outcome", "required_tier"},
)

// Key lifecycle metrics.
//
// KeyRedemptionsTotal is a CounterVec with label {result}: success,
// already_redeemed, revoked, expired, not_found.  A spike in not_found is a
// brute-force signal worth alerting on alongside rate-limit denials.
//
// Example PromQL queries:
//   - Redemption failure ratio:  sum(rate(key_redemptions_total{result!="success"}[15m])) / sum(rate(key_redemptions_total[15m]))
var (
	KeysIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keys_issued_total",
			Help: "Total number of access keys issued, by tier.",
		},
		[]string{"tier"},
	)

	KeyRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_redemptions_total",
			Help: "Total number of access key redemption attempts, by result.",
		},
		[]string{"result"},
	)
)

// Rate limiter metrics.
//
// RateLimitDeniedTotal is a CounterVec with label {scope} (register, resend,
// redeem, vault, download).  Which of the two bucket keys tripped is
// deliberately not a label: it is internal-only detail.
//
// RateLimitFallbacksTotal counts primary-backend failures that degraded the
// limiter to the tightened in-memory fallback.  Any sustained nonzero rate
// means Redis is unhealthy while limits run at half capacity.
var (
	RateLimitDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Total number of requests denied by the rate limiter, by scope.",
		},
		[]string{"scope"},
	)

	RateLimitFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_fallbacks_total",
			Help: "Total number of limiter takes served by the in-memory fallback after a primary backend failure.",
		},
	)
)

// KeysExpiredSweptTotal is a plain Counter incremented once per key flipped
// from active to expired by the background sweep job.
var KeysExpiredSweptTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "keys_expired_swept_total",
		Help: "Total number of access keys marked expired by the background sweep.",
	},
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
// Call this once, immediately after the database connection succeeds in main.go.
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
