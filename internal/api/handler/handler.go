package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/voice-relay/internal/worker"
	"github.com/cuongbtq/voice-relay/internal/worker/storage"
)

// StatusProvider reports the live worker state
type StatusProvider interface {
	Status() worker.Status
}

// HealthChecker verifies a backing service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Service  string
	Recorder storage.Recorder
	Status   StatusProvider // nil when no worker runs in this process
	Health   HealthChecker  // optional
	Now      func() time.Time
}

// RunHandler handles run-history and worker status requests
type RunHandler struct {
	logger   *slog.Logger
	service  string
	recorder storage.Recorder
	status   StatusProvider
	health   HealthChecker
	now      func() time.Time
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &RunHandler{
		logger:   deps.Logger,
		service:  deps.Service,
		recorder: deps.Recorder,
		status:   deps.Status,
		health:   deps.Health,
		now:      now,
	}
}
