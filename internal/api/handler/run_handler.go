package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/voice-relay/internal/api/dto"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
	"github.com/cuongbtq/voice-relay/internal/worker/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetRun handles GET /api/v1/runs/:run_id
func (h *RunHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	// 1. Validate run_id format (UUID)
	if _, err := uuid.Parse(runID); err != nil {
		h.logger.Warn("Invalid run_id format", slog.String("run_id", runID), slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "run_id must be a valid UUID",
		})
		return
	}

	// 2. Load the run
	run, err := h.recorder.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "run not found",
			})
			return
		}

		h.logger.Error("Failed to get run", slog.String("run_id", runID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(run))
}

// ListRuns handles GET /api/v1/runs
// Lists runs newest first with optional filtering and cursor pagination
func (h *RunHandler) ListRuns(c *gin.Context) {
	// 1. Parse query parameters
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	// 2. Validate parameters
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	status := strings.ToUpper(strings.TrimSpace(req.Status))
	switch status {
	case "", domain.RunStatusCompleted, domain.RunStatusFailed, domain.RunStatusAbandoned:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of COMPLETED, FAILED, ABANDONED",
		})
		return
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// 4. Query runs
	runs, err := h.recorder.List(c.Request.Context(), storage.Filter{
		Status:   status,
		JobID:    req.JobID,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list runs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	// 5. Prepare response with next cursor if more results exist
	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i := range runs {
		resp.Runs[i] = toRunDTO(&runs[i])
	}

	if hasMore {
		last := runs[len(runs)-1]
		resp.NextCursor = EncodeRunCursor(&storage.Cursor{
			FinishedAt: last.FinishedAt,
			RunID:      last.RunID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// Summary handles GET /api/v1/summary
func (h *RunHandler) Summary(c *gin.Context) {
	totals, err := h.recorder.Summary(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to summarize runs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to summarize runs",
		})
		return
	}

	c.JSON(http.StatusOK, dto.SummaryResponse{
		Total:     totals.Total,
		Completed: totals.Completed,
		Failed:    totals.Failed,
		Abandoned: totals.Abandoned,
	})
}

func toRunDTO(run *storage.Run) dto.RunDTO {
	out := dto.RunDTO{
		RunID:          run.RunID,
		JobID:          run.JobID,
		VoiceRef:       run.VoiceRef,
		OutfileHint:    run.OutfileHint,
		Status:         run.Status,
		FailedStage:    run.FailedStage,
		ErrorClass:     run.ErrorClass,
		ErrorMessage:   run.ErrorMessage,
		ArtifactPath:   run.ArtifactPath,
		PublishedPath:  run.PublishedPath,
		UploadAttempts: run.UploadAttempts,
		Deleted:        run.Deleted,
		StartedAt:      run.StartedAt.Format(time.RFC3339),
		FinishedAt:     run.FinishedAt.Format(time.RFC3339),
		DurationMS:     run.DurationMS,
	}

	for _, st := range run.Stages {
		out.Stages = append(out.Stages, dto.StageDTO{
			Stage:      st.Stage,
			DurationMS: st.DurationMS,
			Percent:    st.Percent,
		})
	}

	return out
}
