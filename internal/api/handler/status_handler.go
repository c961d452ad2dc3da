package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/voice-relay/internal/api/dto"
)

const healthTimeout = 2 * time.Second

// Health handles GET /health
func (h *RunHandler) Health(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := h.health.HealthCheck(ctx); err != nil {
			h.logger.Warn("Health check failed", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.service,
				"error":   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.service,
	})
}

// Status handles GET /api/v1/status
func (h *RunHandler) Status(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no worker runs in this process",
		})
		return
	}

	st := h.status.Status()
	resp := dto.StatusResponse{
		State:      st.State.String(),
		Mode:       st.Mode,
		CurrentJob: st.CurrentJob,
		Rounds:     st.Rounds,
		Succeeded:  st.Succeeded,
		Failed:     st.Failed,
		Abandoned:  st.Abandoned,
		LastRunID:  st.LastRunID,
		LastError:  st.LastError,
	}
	if !st.StartedAt.IsZero() {
		resp.StartedAt = st.StartedAt.Format(time.RFC3339)
		resp.Uptime = h.now().Sub(st.StartedAt).Truncate(time.Second).String()
	}

	c.JSON(http.StatusOK, resp)
}
