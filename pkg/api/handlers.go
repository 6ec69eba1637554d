package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/railwatch/railwatch/pkg/database"
)

// handleHealth reports per-component health. Any degraded component turns
// the overall status degraded; the endpoint itself always answers 200 so
// orchestrators can read the body.
func (s *Server) handleHealth(c *gin.Context) {
	components := gin.H{"app": "ok"}
	status := "ok"

	if s.deps.DB != nil {
		dbHealth, err := database.Health(c.Request.Context(), s.deps.DB.DB.DB)
		components["database"] = dbHealth
		if err != nil {
			status = "degraded"
		}
	} else {
		components["database"] = "not_configured"
		status = "degraded"
	}

	if s.deps.Supervisor != nil {
		if s.deps.Supervisor.HasConnected() {
			components["log_stream"] = "ok"
		} else {
			components["log_stream"] = "degraded"
			status = "degraded"
		}
	} else {
		components["log_stream"] = "not_configured"
	}

	c.JSON(http.StatusOK, gin.H{"status": status, "components": components})
}

// handleStats returns the telemetry snapshot plus per-target connection
// state.
func (s *Server) handleStats(c *gin.Context) {
	resp := gin.H{}
	if s.deps.Metrics != nil {
		resp["pipeline"] = s.deps.Metrics.Snapshot()
	}
	if s.deps.Supervisor != nil {
		resp["connections"] = s.deps.Supervisor.ListConnections()
	}
	c.JSON(http.StatusOK, resp)
}

// handleIncidents lists recent incidents for the dashboard.
func (s *Server) handleIncidents(c *gin.Context) {
	if s.deps.Incidents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "incident store unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	incidents, err := s.deps.Incidents.ListRecent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list incidents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list incidents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}
