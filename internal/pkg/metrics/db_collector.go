package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStats is the subset of pgxpool statistics that is exported.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	MaxConns() int32
	AcquireDuration() time.Duration
}

// RecordDBPoolMetrics updates database pool metrics.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	RecordPoolStats(pool.Stat())
}

// RecordPoolStats updates database pool gauges from stats.
func RecordPoolStats(stats PoolStats) {
	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
	DBPoolAcquireWait.Set(stats.AcquireDuration().Seconds())
}
