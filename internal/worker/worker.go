package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/voice-relay/internal/artifact"
	"github.com/cuongbtq/voice-relay/internal/clock"
	"github.com/cuongbtq/voice-relay/internal/monitor"
	"github.com/cuongbtq/voice-relay/internal/trigger"
	"github.com/cuongbtq/voice-relay/internal/upload"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
	"github.com/cuongbtq/voice-relay/internal/worker/storage"
)

// JobQueue is the queue server as seen by the worker
type JobQueue interface {
	FetchNext(ctx context.Context, maxWait, pollInterval time.Duration) (*domain.Job, error)
	Pending(ctx context.Context) (int, error)
	Delete(ctx context.Context, id domain.JobID) error
}

// Watcher waits for the synthesis application to stop writing
type Watcher interface {
	WaitForQuiescence(ctx context.Context, root string) (*monitor.Result, error)
}

// Locator finds the produced artifact
type Locator interface {
	Locate(root string) (*artifact.Artifact, error)
}

// Uploader sends the published artifact to the storage server
type Uploader interface {
	Upload(ctx context.Context, localPath string, meta upload.Metadata) (*upload.Result, error)
}

// Notifier announces finished runs
type Notifier interface {
	JobFinished(ctx context.Context, run *storage.Run) error
}

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Clock    clock.Clock
	Queue    JobQueue
	Trigger  trigger.Trigger
	Watcher  Watcher
	Locator  Locator
	Uploader Uploader         // nil disables upload
	Recorder storage.Recorder // optional
	Notifier Notifier         // optional

	Mode              string
	FastDrain         bool
	FetchMaxWait      time.Duration
	PollInterval      time.Duration
	LoopDelay         time.Duration
	WatchedRoot       string
	OutputDir         string
	FilenameTemplate  string
	FilenameOverride  string
	DefaultFilename   string
	DeleteAfterUpload bool
	ReportTimeout     time.Duration
}

// Status is a point-in-time view of the worker
type Status struct {
	State      State     `json:"state"`
	Mode       string    `json:"mode"`
	CurrentJob string    `json:"current_job,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Rounds     int       `json:"rounds"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Abandoned  int       `json:"abandoned"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Worker runs the fetch, synthesize, collect and complete pipeline for one
// job at a time
type Worker struct {
	logger   *slog.Logger
	clock    clock.Clock
	queue    JobQueue
	trigger  trigger.Trigger
	watcher  Watcher
	locator  Locator
	uploader Uploader
	recorder storage.Recorder
	notifier Notifier

	mode              string
	fastDrain         bool
	fetchMaxWait      time.Duration
	pollInterval      time.Duration
	loopDelay         time.Duration
	watchedRoot       string
	outputDir         string
	filenameTemplate  string
	defaultFilename   string
	deleteAfterUpload bool
	reportTimeout     time.Duration

	mu     sync.RWMutex
	status Status
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	mode := cfg.Mode
	if mode == "" {
		mode = domain.ModeContinuous
	}

	template := cfg.FilenameTemplate
	if cfg.FilenameOverride != "" {
		template = cfg.FilenameOverride
	}

	loopDelay := cfg.LoopDelay
	if loopDelay <= 0 {
		loopDelay = cfg.PollInterval
	}

	reportTimeout := cfg.ReportTimeout
	if reportTimeout <= 0 {
		reportTimeout = 10 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		clock:             clk,
		queue:             cfg.Queue,
		trigger:           cfg.Trigger,
		watcher:           cfg.Watcher,
		locator:           cfg.Locator,
		uploader:          cfg.Uploader,
		recorder:          cfg.Recorder,
		notifier:          cfg.Notifier,
		mode:              mode,
		fastDrain:         cfg.FastDrain,
		fetchMaxWait:      cfg.FetchMaxWait,
		pollInterval:      cfg.PollInterval,
		loopDelay:         loopDelay,
		watchedRoot:       cfg.WatchedRoot,
		outputDir:         cfg.OutputDir,
		filenameTemplate:  template,
		defaultFilename:   cfg.DefaultFilename,
		deleteAfterUpload: cfg.DeleteAfterUpload,
		reportTimeout:     reportTimeout,
		status: Status{
			State: StateIdle,
			Mode:  mode,
		},
	}
}

// Run processes jobs until the context is canceled or, in single mode,
// after one job. In single mode a failed fetch is returned as the error;
// job failures never are, they are counted in the Summary.
func (w *Worker) Run(ctx context.Context) (*Summary, error) {
	w.logger.Info("Starting worker",
		slog.String("mode", w.mode),
		slog.Bool("fast_drain", w.fastDrain),
		slog.String("watched_root", w.watchedRoot),
		slog.String("output_dir", w.outputDir),
		slog.Bool("upload", w.uploader != nil),
	)

	w.mu.Lock()
	w.status.StartedAt = w.clock.Now()
	w.mu.Unlock()

	summary := &Summary{}
	err := w.loop(ctx, summary)

	w.setState(StateIdle)
	summary.Log(w.logger)

	return summary, err
}

// Status returns a snapshot of the worker state
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// setState records and logs a state transition
func (w *Worker) setState(next State) {
	w.mu.Lock()
	prev := w.status.State
	w.status.State = next
	w.mu.Unlock()

	if prev == next {
		return
	}

	w.logger.Debug("State transition",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
}

func (w *Worker) setCurrentJob(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentJob = id
}

func (w *Worker) recordOutcome(report *JobReport) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.Rounds++
	w.status.CurrentJob = ""
	w.status.LastRunID = report.RunID
	w.status.LastError = ""

	switch report.Status {
	case domain.RunStatusCompleted:
		w.status.Succeeded++
	case domain.RunStatusAbandoned:
		w.status.Abandoned++
	default:
		w.status.Failed++
	}

	if report.Err != nil {
		w.status.LastError = report.Err.Error()
	}
}

func (w *Worker) recordFetchError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastError = err.Error()
}
