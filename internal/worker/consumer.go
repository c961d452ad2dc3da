package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// loop fetches and processes jobs one at a time. The next fetch only
// happens after the previous job was deleted or abandoned.
func (w *Worker) loop(ctx context.Context, summary *Summary) error {
	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping")
			return nil
		}

		w.setState(StateAwaitingJob)
		job, err := w.queue.FetchNext(ctx, w.fetchMaxWait, w.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker stopped while waiting for a job")
				return nil
			}

			w.recordFetchError(err)
			if !w.shouldRetryFetch(err) {
				w.setState(StateFailed)
				return fmt.Errorf("failed to fetch job: %w", err)
			}

			w.logger.Warn("Fetch failed, retrying after delay",
				slog.String("class", domain.Classify(err)),
				slog.Duration("delay", w.loopDelay),
				slog.Any("error", err),
			)
			if err := w.idle(ctx); err != nil {
				return nil
			}
			continue
		}

		report := w.processJob(ctx, job)
		summary.add(report)
		w.recordOutcome(report)
		w.publishReport(ctx, report)

		if w.mode == domain.ModeSingle {
			return nil
		}
		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping")
			return nil
		}

		if w.backlogWaiting(ctx) {
			continue
		}
		if err := w.idle(ctx); err != nil {
			return nil
		}
	}
}

// shouldRetryFetch decides whether a failed fetch ends the run. Only
// continuous mode retries, and only for failures the queue can recover from.
func (w *Worker) shouldRetryFetch(err error) bool {
	if w.mode == domain.ModeSingle {
		return false
	}

	if errors.Is(err, domain.ErrTimeout) || errors.Is(err, domain.ErrRemoteApplication) {
		return true
	}

	return domain.IsRetryable(err)
}

// backlogWaiting runs the fast-drain check. Any error counts as an empty
// backlog so the normal delay applies.
func (w *Worker) backlogWaiting(ctx context.Context) bool {
	if !w.fastDrain {
		return false
	}

	pending, err := w.queue.Pending(ctx)
	if err != nil {
		w.logger.Debug("Backlog check failed",
			slog.Any("error", err),
		)
		return false
	}

	if pending == 0 {
		w.logger.Debug("Backlog empty")
		return false
	}

	w.logger.Info("Backlog waiting, starting next round",
		slog.Int("pending", pending),
	)
	return true
}

// idle waits LoopDelay between rounds
func (w *Worker) idle(ctx context.Context) error {
	w.setState(StateIdle)
	return w.clock.Sleep(ctx, w.loopDelay)
}
