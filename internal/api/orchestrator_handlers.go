package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Orchestrator control endpoints. These back the Telegram bot's
// /status, /pause, and /resume commands (internal/telegram/commands.go),
// which talk to this API rather than to the engine process directly.

func (s *Server) handleOrchestratorStatus(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "trading engine not configured",
		})
		return
	}

	status := s.engine.Governor().Summary()
	c.JSON(http.StatusOK, gin.H{
		"state":         string(status.Mode),
		"is_paused":     s.engine.IsPaused(),
		"active_agents": 1,
	})
}

func (s *Server) handleOrchestratorCommand(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "trading engine not configured",
		})
		return
	}

	switch c.Param("command") {
	case "pause":
		s.engine.Pause()
		c.JSON(http.StatusOK, gin.H{"status": "paused", "time": time.Now().UTC()})
	case "resume":
		s.engine.Resume()
		c.JSON(http.StatusOK, gin.H{"status": "resumed", "time": time.Now().UTC()})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown orchestrator command"})
	}
}
