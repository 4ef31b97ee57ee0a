package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// maxConfigValue caps a runtime setting body; values are single JSON
// scalars or small arrays.
const maxConfigValue = 16 << 10

// systemHandler handles GET /api/v1/systems/:id.
func (s *Server) systemHandler(c *gin.Context) {
	system, err := s.admin.SystemByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("System lookup failed", "system_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "system lookup failed"})
		return
	}
	if system == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown system"})
		return
	}
	c.JSON(http.StatusOK, system)
}

// usageHandler handles GET /api/v1/usage. Totals are grouped per run type
// over the trailing ?hours= interval (default 24).
func (s *Server) usageHandler(c *gin.Context) {
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = n
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	totals, err := s.admin.UsageTotalsSince(c.Request.Context(), since)
	if err != nil {
		s.logger.Error("Usage totals failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage totals failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "totals": totals})
}

// setConfigHandler handles PUT /api/v1/config/:key. The body is the raw
// JSON value; the orchestrator picks the new setting up on its next run.
func (s *Server) setConfigHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigValue))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON value"})
		return
	}

	if err := s.admin.SetOverride(c.Request.Context(), c.Param("key"), body); err != nil {
		s.logger.Error("Setting override failed", "key", c.Param("key"), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// windowScoresHandler handles GET /api/v1/windows/:id/scores.
func (s *Server) windowScoresHandler(c *gin.Context) {
	windowID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window id must be an integer"})
		return
	}

	scores, err := s.admin.EffectiveScoresForWindow(c.Request.Context(), windowID)
	if err != nil {
		s.logger.Error("Window scores lookup failed", "window_id", windowID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "window scores lookup failed"})
		return
	}
	if len(scores) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "window not analyzed"})
		return
	}
	c.JSON(http.StatusOK, scores)
}
