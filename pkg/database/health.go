package database

import (
	"context"
	"database/sql"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthStatus reports database reachability and pool usage.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	MaxOpenConns    int    `json:"max_open_conns"`
	Recordings      int64  `json:"recordings"`
}

// Health pings the database and counts stored recordings. The check is
// bounded by a short timeout so a stalled database cannot hang /health.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	var recordings int64
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM recordings`).Scan(&recordings); err != nil {
		return &HealthStatus{
			Status:       "degraded",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		MaxOpenConns:    stats.MaxOpenConnections,
		Recordings:      recordings,
	}, nil
}

// Health checks the client's own pool.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	return Health(ctx, c.db)
}
