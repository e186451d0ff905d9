package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verdictswarm/director/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the director's own components are checked. The analysis backend is
// excluded so an upstream outage does not get the director restarted; the
// sessions degrade to polling or stored recordings instead.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	resp := &HealthResponse{
		Version:     version.GitCommit,
		Build:       version.Info(),
		Sessions:    s.sessions.Count(),
		Connections: s.connManager.ActiveConnections(),
	}

	if s.dbClient != nil {
		dbHealth, err := s.dbClient.Health(reqCtx)
		resp.Database = dbHealth
		switch {
		case err == nil:
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		case dbHealth != nil && dbHealth.Status == healthStatusDegraded:
			status = healthStatusDegraded
			checks["database"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
		default:
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusDegraded, Message: "disabled, recordings and cached replay are off"}
	}

	if limit := s.cfg.Server.MaxSessions; limit > 0 && resp.Sessions >= limit {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["sessions"] = HealthCheck{Status: healthStatusDegraded, Message: "session limit reached"}
	} else {
		checks["sessions"] = HealthCheck{Status: healthStatusHealthy}
	}

	resp.Status = status
	resp.Checks = checks

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}
