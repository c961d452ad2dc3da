package worker

import (
	"log/slog"
	"time"

	"github.com/cuongbtq/voice-relay/internal/artifact"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
	"github.com/cuongbtq/voice-relay/internal/worker/storage"
)

// maxSummaryJobs bounds Summary.Jobs in long continuous runs
const maxSummaryJobs = 100

// JobReport is the outcome of one fetched job
type JobReport struct {
	RunID          string
	Job            domain.Job
	Status         string
	FailedStage    State
	Err            error
	Artifact       *artifact.Artifact
	PublishedPath  string
	UploadAttempts int
	Deleted        bool
	DeleteErr      error
	StartedAt      time.Time
	FinishedAt     time.Time
	Timeline       *Timeline
}

// Succeeded reports whether every stage completed
func (r *JobReport) Succeeded() bool {
	return r.Status == domain.RunStatusCompleted
}

// Run converts the report into its run-history row
func (r *JobReport) Run() *storage.Run {
	run := &storage.Run{
		RunID:          r.RunID,
		JobID:          r.Job.ID.String(),
		VoiceRef:       r.Job.VoiceRef,
		OutfileHint:    r.Job.OutfileHint,
		Status:         r.Status,
		PublishedPath:  r.PublishedPath,
		UploadAttempts: r.UploadAttempts,
		Deleted:        r.Deleted,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		DurationMS:     r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}

	if r.Err != nil {
		run.FailedStage = r.FailedStage.String()
		run.ErrorClass = domain.Classify(r.Err)
		run.ErrorMessage = r.Err.Error()
	}
	if r.Artifact != nil {
		run.ArtifactPath = r.Artifact.Path
	}
	if r.Timeline != nil {
		run.Stages = r.Timeline.Stages()
	}

	return run
}

// Summary aggregates every job processed by one Run call
type Summary struct {
	Rounds         int
	Succeeded      int
	Failed         int
	Abandoned      int
	DeleteFailures int
	Jobs           []*JobReport // most recent last, bounded
}

func (s *Summary) add(report *JobReport) {
	s.Rounds++

	switch report.Status {
	case domain.RunStatusCompleted:
		s.Succeeded++
	case domain.RunStatusAbandoned:
		s.Abandoned++
	default:
		s.Failed++
	}

	if report.DeleteErr != nil {
		s.DeleteFailures++
	}

	s.Jobs = append(s.Jobs, report)
	if len(s.Jobs) > maxSummaryJobs {
		s.Jobs = s.Jobs[len(s.Jobs)-maxSummaryJobs:]
	}
}

// Log writes the aggregate outcome
func (s *Summary) Log(logger *slog.Logger) {
	logger.Info("Worker summary",
		slog.Int("rounds", s.Rounds),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int("abandoned", s.Abandoned),
		slog.Int("delete_failures", s.DeleteFailures),
	)
}
