package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/voice-relay/internal/api/dto"
	"github.com/cuongbtq/voice-relay/internal/api/handler"
	"github.com/cuongbtq/voice-relay/internal/worker"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
	"github.com/cuongbtq/voice-relay/internal/worker/storage"
	"github.com/cuongbtq/voice-relay/shared/logger"
)

var base = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type staticStatus struct {
	status worker.Status
}

func (s staticStatus) Status() worker.Status { return s.status }

type failingHealth struct{}

func (failingHealth) HealthCheck(ctx context.Context) error { return errors.New("connection refused") }

func seededRecorder(t *testing.T) (*storage.Memory, []string) {
	t.Helper()

	rec := storage.NewMemory(50)
	statuses := []string{
		domain.RunStatusCompleted,
		domain.RunStatusFailed,
		domain.RunStatusCompleted,
		domain.RunStatusAbandoned,
		domain.RunStatusCompleted,
	}

	var ids []string
	for i, status := range statuses {
		id := uuid.NewString()
		ids = append(ids, id)
		require.NoError(t, rec.Record(context.Background(), &storage.Run{
			RunID:      id,
			JobID:      fmt.Sprintf("%d", i+1),
			Status:     status,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Stages:     storage.Stages{{Stage: "triggering", DurationMS: 500, Percent: 100}},
		}))
	}

	return rec, ids
}

func newTestRouter(t *testing.T, deps *handler.Dependencies) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if deps.Logger == nil {
		deps.Logger = logger.NewNop().Logger
	}
	return SetupRouter(deps)
}

func get(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     handler.HealthChecker
		wantStatus int
		wantBody   string
	}{
		{name: "no dependency", wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "database down", health: failingHealth{}, wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := seededRecorder(t)
			r := newTestRouter(t, &handler.Dependencies{Service: "voice-worker", Recorder: rec, Health: tt.health})

			w := get(r, "/health")
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
			assert.Equal(t, "voice-worker", body["service"])
		})
	}
}

func TestListRuns_Pagination(t *testing.T) {
	rec, ids := seededRecorder(t)
	r := newTestRouter(t, &handler.Dependencies{Recorder: rec})

	w := get(r, "/api/v1/runs?page_size=2")
	require.Equal(t, http.StatusOK, w.Code)

	var page dto.ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Runs, 2)
	assert.Equal(t, ids[4], page.Runs[0].RunID)
	assert.Equal(t, ids[3], page.Runs[1].RunID)
	require.NotEmpty(t, page.NextCursor)

	var seen []string
	cursor := page.NextCursor
	for cursor != "" {
		w = get(r, "/api/v1/runs?page_size=2&cursor="+cursor)
		require.Equal(t, http.StatusOK, w.Code)

		var next dto.ListRunsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
		for _, run := range next.Runs {
			seen = append(seen, run.RunID)
		}
		cursor = next.NextCursor
	}

	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, seen)
}

func TestListRuns_Filters(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{name: "status", query: "status=completed", wantStatus: http.StatusOK, wantCount: 3},
		{name: "job id", query: "job_id=2", wantStatus: http.StatusOK, wantCount: 1},
		{name: "unknown status", query: "status=RUNNING", wantStatus: http.StatusBadRequest},
		{name: "bad cursor", query: "cursor=bm90LWEtY3Vyc29y", wantStatus: http.StatusBadRequest},
		{name: "bad page size", query: "page_size=abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := seededRecorder(t)
			r := newTestRouter(t, &handler.Dependencies{Recorder: rec})

			w := get(r, "/api/v1/runs?"+tt.query)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var page dto.ListRunsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
			assert.Len(t, page.Runs, tt.wantCount)
			assert.Empty(t, page.NextCursor)
		})
	}
}

func TestGetRun(t *testing.T) {
	rec, ids := seededRecorder(t)
	r := newTestRouter(t, &handler.Dependencies{Recorder: rec})

	tests := []struct {
		name       string
		runID      string
		wantStatus int
	}{
		{name: "found", runID: ids[1], wantStatus: http.StatusOK},
		{name: "unknown", runID: uuid.NewString(), wantStatus: http.StatusNotFound},
		{name: "not a uuid", runID: "abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, "/api/v1/runs/"+tt.runID)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	w := get(r, "/api/v1/runs/"+ids[1])
	var run dto.RunDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "2", run.JobID)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, "triggering", run.Stages[0].Stage)
}

func TestSummary(t *testing.T) {
	rec, _ := seededRecorder(t)
	r := newTestRouter(t, &handler.Dependencies{Recorder: rec})

	w := get(r, "/api/v1/summary")
	require.Equal(t, http.StatusOK, w.Code)

	var totals dto.SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
	assert.Equal(t, dto.SummaryResponse{Total: 5, Completed: 3, Failed: 1, Abandoned: 1}, totals)
}

func TestStatus(t *testing.T) {
	rec, _ := seededRecorder(t)

	t.Run("worker in process", func(t *testing.T) {
		r := newTestRouter(t, &handler.Dependencies{
			Recorder: rec,
			Status: staticStatus{status: worker.Status{
				State:      worker.StateAwaitingQuiescence,
				Mode:       domain.ModeContinuous,
				CurrentJob: "17",
				StartedAt:  base,
				Rounds:     4,
				Succeeded:  3,
				Failed:     1,
			}},
			Now: func() time.Time { return base.Add(90 * time.Second) },
		})

		w := get(r, "/api/v1/status")
		require.Equal(t, http.StatusOK, w.Code)

		var st dto.StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		assert.Equal(t, "awaiting_quiescence", st.State)
		assert.Equal(t, "17", st.CurrentJob)
		assert.Equal(t, "1m30s", st.Uptime)
		assert.Equal(t, 4, st.Rounds)
	})

	t.Run("history only", func(t *testing.T) {
		r := newTestRouter(t, &handler.Dependencies{Recorder: rec})

		w := get(r, "/api/v1/status")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	rec, _ := seededRecorder(t)
	r := newTestRouter(t, &handler.Dependencies{Recorder: rec})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
