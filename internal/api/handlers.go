package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tradewind-ai/tradewind/internal/config"
	"github.com/tradewind-ai/tradewind/internal/engine"
)

const maxRecentSignals = 100

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": config.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.cfg.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not attached"})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Engine.Status())
}

func (s *Server) handleRisk(c *gin.Context) {
	if s.cfg.Risk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk governor not attached"})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Risk.Summary())
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxRecentSignals {
		limit = maxRecentSignals
	}

	signals := []engine.SignalRecord{}
	if s.cfg.Signals != nil {
		signals = s.cfg.Signals.Recent(limit)
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(signals),
		"signals": signals,
	})
}

func (s *Server) handleMemoryStats(c *gin.Context) {
	if s.cfg.Memory == nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}

	stats, err := s.cfg.Memory.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read memory stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
