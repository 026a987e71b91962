// Package telemetry provides application-level observability for the participant backend.
//
// All metrics are registered against the default Prometheus registry and served on the
// side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<BLD_TELEMETRY_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router, keeping the scrape
// path off the public ingress and out of the rate-limiting middleware.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/users/:id/status) rather
// than the raw request URL to prevent unbounded label cardinality from user-supplied
// path segments such as record ids or email addresses.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics; labelled by method, route template, and status code.
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

// Lifecycle metrics; one counter per state-machine transition family.
//
// UserCreationsTotal is labelled by outcome: "created", "conflict", or "error".
// A healthy frontend integration keeps the conflict rate low but nonzero
// (re-login flows re-post the signed-in profile).
var (
	UserCreationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_creations_total",
			Help: "Total CreateUser attempts, by outcome (created, conflict, error).",
		},
		[]string{"outcome"},
	)

	StatusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_status_changes_total",
			Help: "Total successful status transitions, by target status.",
		},
		[]string{"status"},
	)

	RoleChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_role_changes_total",
			Help: "Total successful role transitions, by target role.",
		},
		[]string{"role"},
	)

	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total audit log entries appended, by action type.",
		},
		[]string{"action"},
	)
)

// Database pool metrics, polled every 30 seconds by StartDBStatsCollector.
var (
	dbOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Number of established connections to the database, both in use and idle.",
	})

	dbInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_in_use_connections",
		Help: "Number of database connections currently in use.",
	})

	dbWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_connection_wait_total",
		Help: "Cumulative number of times a caller had to wait for a free connection.",
	})
)

// StartDBStatsCollector begins exporting connection pool statistics for the
// given handle. It launches one goroutine that polls db.Stats() every 30
// seconds for the lifetime of the process.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		var lastWaitCount int64
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stats := db.Stats()
			dbOpenConnections.Set(float64(stats.OpenConnections))
			dbInUseConnections.Set(float64(stats.InUse))
			if delta := stats.WaitCount - lastWaitCount; delta > 0 {
				dbWaitCount.Add(float64(delta))
				lastWaitCount = stats.WaitCount
			}
		}
	}()
	slog.Debug("database stats collector started")
}
