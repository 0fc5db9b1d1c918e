package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/faultline-io/faultline/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /healthz. Only the process's own
// components are checked; external backends are excluded so an
// unhealthy dependency cannot get the service restarted.
func (s *Server) healthHandler(c *gin.Context) {
	resp := HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.GitCommit,
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		resp.WorkerPool = poolHealth
		if poolHealth != nil && !poolHealth.IsHealthy {
			resp.Status = healthStatusDegraded
		}
	}

	c.JSON(http.StatusOK, resp)
}
