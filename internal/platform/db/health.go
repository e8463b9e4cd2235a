package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/labbox/labbox/pkg/response"
)

// PoolStats is the pool section of the database health response.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// DBHealth is the payload of GET /health/db.
type DBHealth struct {
	Healthy bool       `json:"healthy"`
	Latency string     `json:"latency"`
	Pool    *PoolStats `json:"pool"`
}

// Pinger is the slice of *pgxpool.Pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

func GetPoolStats(stat *pgxpool.Stat) *PoolStats {
	if stat == nil {
		return nil
	}
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// LivenessHandler answers without touching the database.
func LivenessHandler(version string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return response.OK(c, "Service is running", map[string]string{"version": version})
	}
}

// HealthHandler pings the database with a short deadline and reports pool
// usage. An unreachable database answers 503 with the same payload.
func HealthHandler(pool Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		start := time.Now()
		err := pool.Ping(ctx)
		h := DBHealth{
			Healthy: err == nil,
			Latency: time.Since(start).Round(time.Microsecond).String(),
			Pool:    GetPoolStats(pool.Stat()),
		}
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, response.Envelope{
				Code:    http.StatusServiceUnavailable,
				Status:  false,
				Message: "Database unavailable",
				Data:    h,
				Error:   err.Error(),
			})
		}
		return response.OK(c, "Database is healthy", h)
	}
}
