package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is a bounded in-process Recorder. It is used when no database is
// configured; the oldest runs are dropped once capacity is reached.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	runs     []Run
}

// NewMemory creates a Memory recorder holding at most capacity runs
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 500
	}
	return &Memory{capacity: capacity}
}

// Record stores a copy of run, replacing an earlier copy with the same ID
func (m *Memory) Record(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].RunID == run.RunID {
			m.runs[i] = cloneRun(run)
			return nil
		}
	}

	m.runs = append(m.runs, cloneRun(run))
	if len(m.runs) > m.capacity {
		m.runs = append(m.runs[:0:0], m.runs[len(m.runs)-m.capacity:]...)
	}

	return nil
}

// Get retrieves a run by its ID
func (m *Memory) Get(ctx context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.runs {
		if m.runs[i].RunID == runID {
			run := cloneRun(&m.runs[i])
			return &run, nil
		}
	}

	return nil, ErrRunNotFound
}

// List returns runs newest first, PageSize+1 at most
func (m *Memory) List(ctx context.Context, filter Filter) ([]Run, error) {
	m.mu.RLock()
	matched := make([]Run, 0, len(m.runs))
	for i := range m.runs {
		r := m.runs[i]
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.JobID != "" && r.JobID != filter.JobID {
			continue
		}
		if filter.Cursor != nil && !pastCursor(r, *filter.Cursor) {
			continue
		}
		matched = append(matched, cloneRun(&r))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.After(b.FinishedAt)
		}
		return a.RunID > b.RunID
	})

	if limit := filter.PageSize + 1; len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// Summary counts runs per status
func (m *Memory) Summary(ctx context.Context) (*Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := &Totals{}
	for i := range m.runs {
		totals.add(m.runs[i].Status, 1)
	}
	return totals, nil
}

func cloneRun(run *Run) Run {
	c := *run
	if run.Stages != nil {
		c.Stages = append(Stages(nil), run.Stages...)
	}
	return c
}
