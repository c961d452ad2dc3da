package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/cuongbtq/voice-relay/internal/artifact"
	"github.com/cuongbtq/voice-relay/internal/trigger"
	"github.com/cuongbtq/voice-relay/internal/upload"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// contentPreviewRunes bounds the job content written to logs
const contentPreviewRunes = 60

// processJob runs every stage for job and completes it. Stage failures are
// recorded in the report and never returned: the job is still deleted.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) *JobReport {
	report := &JobReport{
		RunID:     uuid.NewString(),
		Job:       *job,
		StartedAt: w.clock.Now(),
		Timeline:  NewTimeline(w.clock),
	}
	w.setCurrentJob(job.ID.String())

	logger := w.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("run_id", report.RunID),
	)
	logger.Info("Processing job",
		slog.String("voice", job.VoiceRef),
		slog.String("outfile", job.OutfileHint),
		slog.String("content", job.ContentPreview(contentPreviewRunes)),
	)

	stage, err := w.runStages(ctx, logger, job, report)
	if err != nil {
		report.FailedStage = stage
		report.Err = err
		w.setState(StateFailed)
		logger.Error("Job failed",
			slog.String("stage", stage.String()),
			slog.String("class", domain.Classify(err)),
			slog.Any("error", err),
		)
	}

	// Completing: the job leaves the queue exactly once, unless shutdown
	// interrupted it, in which case the queue redelivers it
	report.Timeline.Mark(StateCompleting)
	w.setState(StateCompleting)

	switch {
	case err != nil && ctx.Err() != nil:
		report.Status = domain.RunStatusAbandoned
		logger.Warn("Job abandoned by shutdown, leaving it queued")
	default:
		w.completeJob(ctx, logger, report)
		if err != nil {
			report.Status = domain.RunStatusFailed
		} else {
			report.Status = domain.RunStatusCompleted
		}
	}

	report.Timeline.Close()
	report.FinishedAt = w.clock.Now()
	report.Timeline.Log(logger, job.ID.String())

	logger.Info("Job finished",
		slog.String("status", report.Status),
		slog.Bool("deleted", report.Deleted),
		slog.String("published", report.PublishedPath),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report
}

// runStages executes Triggering through Uploading and returns the stage
// that failed, if any
func (w *Worker) runStages(ctx context.Context, logger *slog.Logger, job *domain.Job, report *JobReport) (State, error) {
	// Step 1: Start synthesis
	w.enter(report, StateTriggering)
	if err := w.trigger.Submit(ctx, trigger.NewRequest(job)); err != nil {
		return StateTriggering, fmt.Errorf("failed to trigger synthesis: %w", err)
	}

	// Step 2: Wait until the application stops writing
	w.enter(report, StateAwaitingQuiescence)
	quiet, err := w.watcher.WaitForQuiescence(ctx, w.watchedRoot)
	if err != nil {
		return StateAwaitingQuiescence, fmt.Errorf("failed to wait for synthesis output: %w", err)
	}
	logger.Info("Synthesis output settled",
		slog.Int("scans", quiet.Scans),
		slog.Int("new_entries", len(quiet.NewEntries)),
		slog.Duration("elapsed", quiet.Elapsed),
	)

	// Step 3: Find the artifact
	w.enter(report, StateLocating)
	found, err := w.locator.Locate(w.watchedRoot)
	if err != nil {
		return StateLocating, fmt.Errorf("failed to locate artifact: %w", err)
	}
	report.Artifact = found
	logger.Info("Artifact located",
		slog.String("path", found.Path),
		slog.Int64("size", found.Size),
		slog.String("folder", found.Folder),
	)

	// Step 4: Copy it out of the watched root
	w.enter(report, StatePublishing)
	filename := artifact.OutputFilename(w.filenameTemplate, job, w.defaultFilename)
	published, err := artifact.Publish(found.Path, w.outputDir, filename, w.clock.Now())
	if err != nil {
		return StatePublishing, fmt.Errorf("failed to publish artifact: %w", err)
	}
	report.PublishedPath = published
	logger.Info("Artifact published",
		slog.String("path", published),
	)

	if w.uploader == nil {
		return "", nil
	}

	// Step 5: Upload the published copy
	w.enter(report, StateUploading)
	result, err := w.uploader.Upload(ctx, published, upload.Metadata{
		Description: upload.Description(filename),
	})
	if result != nil {
		report.UploadAttempts = len(result.Attempts)
	}
	if err != nil {
		return StateUploading, fmt.Errorf("failed to upload artifact: %w", err)
	}

	if w.deleteAfterUpload {
		w.removePublished(logger, published)
	}

	return "", nil
}

// enter marks a stage boundary
func (w *Worker) enter(report *JobReport, stage State) {
	report.Timeline.Mark(stage)
	w.setState(stage)
}

// completeJob deletes the job from the queue. It runs on a context detached
// from shutdown so a finished job is not redelivered.
func (w *Worker) completeJob(ctx context.Context, logger *slog.Logger, report *JobReport) {
	if report.Job.ID == "" {
		report.DeleteErr = domain.ErrMissingJobID
		logger.Error("Missing job id, cannot delete job")
		return
	}

	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.reportTimeout)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, report.Job.ID); err != nil {
		report.DeleteErr = err
		logger.Error("Failed to delete job, it may be processed again",
			slog.String("class", domain.Classify(err)),
			slog.Any("error", err),
		)
		return
	}

	report.Deleted = true
}

// removePublished deletes the local copy after a successful upload
func (w *Worker) removePublished(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("failed to remove published file: %w: %w", domain.ErrLocalIO, err)
		logger.Warn("Keeping published file after upload",
			slog.String("path", path),
			slog.String("class", domain.Classify(err)),
			slog.Any("error", err),
		)
		return
	}

	logger.Info("Removed published file after upload",
		slog.String("path", path),
	)
}

// publishReport stores the run and announces it. Both are best effort.
func (w *Worker) publishReport(ctx context.Context, report *JobReport) {
	if w.recorder == nil && w.notifier == nil {
		return
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.reportTimeout)
	defer cancel()

	run := report.Run()

	if w.recorder != nil {
		if err := w.recorder.Record(reportCtx, run); err != nil {
			w.logger.Error("Failed to record run",
				slog.String("run_id", run.RunID),
				slog.Any("error", err),
			)
		}
	}

	if w.notifier != nil {
		if err := w.notifier.JobFinished(reportCtx, run); err != nil {
			w.logger.Error("Failed to publish run event",
				slog.String("run_id", run.RunID),
				slog.Any("error", err),
			)
		}
	}
}
