// Package events announces job outcomes on the message bus
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/voice-relay/internal/worker/storage"
	"github.com/cuongbtq/voice-relay/shared/rabbitmq"
)

// EventTypeJobFinished is the message type of JobFinishedEvent
const EventTypeJobFinished = "voice.job.finished"

// Publisher sends a message to the bus
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// JobFinishedEvent is published once per processed job
type JobFinishedEvent struct {
	EventID        string    `json:"event_id"`
	RunID          string    `json:"run_id"`
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	FailedStage    string    `json:"failed_stage,omitempty"`
	ErrorClass     string    `json:"error_class,omitempty"`
	Error          string    `json:"error,omitempty"`
	PublishedPath  string    `json:"published_path,omitempty"`
	UploadAttempts int       `json:"upload_attempts"`
	Deleted        bool      `json:"deleted"`
	DurationMS     int64     `json:"duration_ms"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Notifier publishes job outcome events
type Notifier struct {
	publisher     Publisher
	routingPrefix string
	logger        *slog.Logger
}

// NewNotifier creates a Notifier. Events are routed to
// "<routingPrefix>.<status>" in lower case, or to the publisher's default
// routing key when routingPrefix is empty.
func NewNotifier(publisher Publisher, routingPrefix string, logger *slog.Logger) *Notifier {
	return &Notifier{
		publisher:     publisher,
		routingPrefix: routingPrefix,
		logger:        logger,
	}
}

// JobFinished publishes the outcome of run
func (n *Notifier) JobFinished(ctx context.Context, run *storage.Run) error {
	event := JobFinishedEvent{
		EventID:        uuid.NewString(),
		RunID:          run.RunID,
		JobID:          run.JobID,
		Status:         run.Status,
		FailedStage:    run.FailedStage,
		ErrorClass:     run.ErrorClass,
		Error:          run.ErrorMessage,
		PublishedPath:  run.PublishedPath,
		UploadAttempts: run.UploadAttempts,
		Deleted:        run.Deleted,
		DurationMS:     run.DurationMS,
		FinishedAt:     run.FinishedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := rabbitmq.Message{
		MessageID:   event.EventID,
		Type:        EventTypeJobFinished,
		ContentType: "application/json",
		Body:        body,
		Headers: map[string]any{
			"job_id": event.JobID,
			"status": event.Status,
		},
	}
	if n.routingPrefix != "" {
		msg.RoutingKey = n.routingPrefix + "." + strings.ToLower(event.Status)
	}

	if err := n.publisher.PublishWithRetry(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish job finished event: %w", err)
	}

	n.logger.Debug("Job outcome published",
		slog.String("event_id", event.EventID),
		slog.String("job_id", event.JobID),
		slog.String("status", event.Status),
	)

	return nil
}
