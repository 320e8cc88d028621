// Adapted from the teacher's pkg/database.DatabaseMetrics: same
// atomic-counter/Prometheus-pair shape for query instrumentation, stripped
// of its dependency on the teacher's read-replica operation-type enum (no
// read replicas here — every query runs through the single primary pool)
// and given this service's metric namespace.
package database

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// QueryMetrics tracks Postgres query volume and latency, recorded by
// internal/queries around every Compute call.
type QueryMetrics struct {
	log logging.Logger

	totalQueries  int64
	failedQueries int64
	slowQueries   int64
	totalDuration int64 // nanoseconds

	slowQueryThreshold time.Duration

	queryTotal    *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	slowTotal     *prometheus.CounterVec
}

// NewQueryMetrics registers the Prometheus collectors and returns the tracker.
func NewQueryMetrics(log logging.Logger) *QueryMetrics {
	buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	return &QueryMetrics{
		log:                log,
		slowQueryThreshold: time.Second,
		queryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gfl_ze_watcher",
			Subsystem: "database",
			Name:      "queries_total",
			Help:      "Total number of database queries, by query name and outcome.",
		}, []string{"query", "status"}),
		queryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gfl_ze_watcher",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds, by query name.",
			Buckets:   buckets,
		}, []string{"query"}),
		slowTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gfl_ze_watcher",
			Subsystem: "database",
			Name:      "slow_queries_total",
			Help:      "Total number of queries exceeding the slow-query threshold.",
		}, []string{"query"}),
	}
}

// RecordQuery records one query's outcome under name (e.g. "player_map_time").
func (m *QueryMetrics) RecordQuery(name string, duration time.Duration, err error) {
	atomic.AddInt64(&m.totalQueries, 1)
	atomic.AddInt64(&m.totalDuration, duration.Nanoseconds())

	status := "success"
	if err != nil {
		status = "error"
		atomic.AddInt64(&m.failedQueries, 1)
	}

	if duration > m.slowQueryThreshold {
		atomic.AddInt64(&m.slowQueries, 1)
		m.slowTotal.WithLabelValues(name).Inc()
		m.log.Warn("slow query", logging.String("query", name), logging.Duration("duration", duration))
	}

	m.queryTotal.WithLabelValues(name, status).Inc()
	m.queryDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// Snapshot returns a point-in-time summary of the atomic counters.
func (m *QueryMetrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"total_queries":     atomic.LoadInt64(&m.totalQueries),
		"failed_queries":    atomic.LoadInt64(&m.failedQueries),
		"slow_queries":      atomic.LoadInt64(&m.slowQueries),
		"total_duration_ms": atomic.LoadInt64(&m.totalDuration) / int64(time.Millisecond),
	}
}
