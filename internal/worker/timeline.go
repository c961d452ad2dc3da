package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/voice-relay/internal/clock"
	"github.com/cuongbtq/voice-relay/internal/worker/storage"
)

// Event is one stage boundary
type Event struct {
	Stage State
	At    time.Time
}

// Timeline is the append-only diagnostic log of one job's stage
// boundaries. It never influences control flow.
type Timeline struct {
	mu     sync.Mutex
	clock  clock.Clock
	events []Event
	end    time.Time
}

// NewTimeline creates an empty Timeline
func NewTimeline(clk clock.Clock) *Timeline {
	return &Timeline{clock: clk}
}

// Mark records that stage starts now
func (t *Timeline) Mark(stage State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.end.IsZero() {
		return
	}
	t.events = append(t.events, Event{Stage: stage, At: t.clock.Now()})
}

// Close records the end of the last stage. Later marks are ignored.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.end.IsZero() {
		t.end = t.clock.Now()
	}
}

// Events returns a copy of the recorded boundaries
func (t *Timeline) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Total is the time from the first mark to Close
func (t *Timeline) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total()
}

func (t *Timeline) total() time.Duration {
	if len(t.events) == 0 {
		return 0
	}

	end := t.end
	if end.IsZero() {
		end = t.clock.Now()
	}
	return end.Sub(t.events[0].At)
}

// Stages returns each stage's duration and its share of the total
func (t *Timeline) Stages() storage.Stages {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.total()
	end := t.end
	if end.IsZero() {
		end = t.clock.Now()
	}

	stages := make(storage.Stages, 0, len(t.events))
	for i, ev := range t.events {
		next := end
		if i+1 < len(t.events) {
			next = t.events[i+1].At
		}

		d := next.Sub(ev.At)
		pct := 0.0
		if total > 0 {
			pct = float64(d) / float64(total) * 100
		}

		stages = append(stages, storage.StageTiming{
			Stage:      ev.Stage.String(),
			DurationMS: d.Milliseconds(),
			Percent:    pct,
		})
	}

	return stages
}

// Log writes the timing report
func (t *Timeline) Log(logger *slog.Logger, jobID string) {
	attrs := []any{slog.String("job_id", jobID), slog.Duration("total", t.Total())}
	for _, st := range t.Stages() {
		attrs = append(attrs, slog.Group(st.Stage,
			slog.Duration("duration", time.Duration(st.DurationMS)*time.Millisecond),
			slog.Float64("percent", roundTo(st.Percent, 1)),
		))
	}

	logger.Info("Job timing", attrs...)
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}
