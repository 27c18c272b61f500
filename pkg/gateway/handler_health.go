package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sportswire/sportswire/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"

	healthProbeTimeout = 5 * time.Second
)

type healthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthHandler handles GET /health. Every configured probe must answer
// within the timeout; any failure turns the whole response into a 503 so the
// orchestrator restarts the pod.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	status := healthStatusHealthy
	checks := make(map[string]healthCheck, len(s.probes))
	for name, probe := range s.probes {
		if err := probe(ctx); err != nil {
			status = healthStatusUnhealthy
			checks[name] = healthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
			continue
		}
		checks[name] = healthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "version": version.GitCommit, "checks": checks})
}
