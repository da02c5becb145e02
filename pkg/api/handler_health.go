package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aria-agents/aria/pkg/database"
)

// DBHealthChecker adapts a live *sql.DB to the HealthChecker interface.
func DBHealthChecker(db *sql.DB) HealthChecker {
	return dbHealthChecker{db: db}
}

type dbHealthChecker struct{ db *sql.DB }

func (h dbHealthChecker) Health(ctx context.Context) (*database.HealthStatus, error) {
	return database.Health(ctx, h.db)
}

type healthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Database      *database.HealthStatus `json:"database"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:        "healthy",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	dbHealth, err := s.health.Health(ctx)
	resp.Database = dbHealth
	if err != nil {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
