package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// ErrRunNotFound is returned when a run ID is unknown
var ErrRunNotFound = errors.New("run not found")

// Run is the persisted outcome of one processed job
type Run struct {
	RunID          string    `db:"run_id" json:"run_id"`
	JobID          string    `db:"job_id" json:"job_id"`
	VoiceRef       string    `db:"voice_ref" json:"voice_ref"`
	OutfileHint    string    `db:"outfile_hint" json:"outfile_hint"`
	Status         string    `db:"status" json:"status"`
	FailedStage    string    `db:"failed_stage" json:"failed_stage,omitempty"`
	ErrorClass     string    `db:"error_class" json:"error_class,omitempty"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	ArtifactPath   string    `db:"artifact_path" json:"artifact_path,omitempty"`
	PublishedPath  string    `db:"published_path" json:"published_path,omitempty"`
	UploadAttempts int       `db:"upload_attempts" json:"upload_attempts"`
	Deleted        bool      `db:"deleted" json:"deleted"`
	StartedAt      time.Time `db:"started_at" json:"started_at"`
	FinishedAt     time.Time `db:"finished_at" json:"finished_at"`
	DurationMS     int64     `db:"duration_ms" json:"duration_ms"`
	Stages         Stages    `db:"stages" json:"stages"`
}

// StageTiming is the time spent in one pipeline stage
type StageTiming struct {
	Stage      string  `json:"stage"`
	DurationMS int64   `json:"duration_ms"`
	Percent    float64 `json:"percent"`
}

// Stages is stored as a JSONB column
type Stages []StageTiming

// Value implements driver.Valuer
func (s Stages) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *Stages) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported stages type %T", src)
	}
	return json.Unmarshal(data, s)
}

// Cursor is the pagination position (finished_at, run_id)
type Cursor struct {
	FinishedAt time.Time
	RunID      string
}

// Filter selects runs for listing
type Filter struct {
	Status   string
	JobID    string
	PageSize int
	Cursor   *Cursor
}

// Totals aggregates run outcomes
type Totals struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

func (t *Totals) add(status string, n int) {
	t.Total += n
	switch status {
	case domain.RunStatusCompleted:
		t.Completed += n
	case domain.RunStatusFailed:
		t.Failed += n
	case domain.RunStatusAbandoned:
		t.Abandoned += n
	}
}

// Recorder persists and reads run history. List returns up to
// PageSize+1 rows so callers can tell whether another page exists.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
	Get(ctx context.Context, runID string) (*Run, error)
	List(ctx context.Context, filter Filter) ([]Run, error)
	Summary(ctx context.Context) (*Totals, error)
}

// pastCursor reports whether a comes after the cursor in newest-first
// order, matching (finished_at, run_id) < cursor in SQL
func pastCursor(a Run, b Cursor) bool {
	if !a.FinishedAt.Equal(b.FinishedAt) {
		return a.FinishedAt.Before(b.FinishedAt)
	}
	return a.RunID < b.RunID
}

var (
	_ Recorder = (*Storage)(nil)
	_ Recorder = (*Memory)(nil)
)
