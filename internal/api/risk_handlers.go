package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleRiskReport exposes the Risk Governor's Sharpe/VaR/drawdown/market-
// regime assessment (internal/risk.Governor.RiskReport) for a symbol, so
// the dashboard and Telegram bot can surface risk metrics beyond the
// mode-machine Status already returned by /orchestrator/status.
func (s *Server) handleRiskReport(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trading engine not configured"})
		return
	}

	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol query parameter is required"})
		return
	}
	days := 30
	if raw := c.Query("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			days = parsed
		}
	}

	report, err := s.engine.Governor().RiskReport(c.Request.Context(), symbol, nil, days)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
