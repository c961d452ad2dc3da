package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, m *Memory, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		status := domain.RunStatusCompleted
		if i%3 == 2 {
			status = domain.RunStatusFailed
		}
		require.NoError(t, m.Record(context.Background(), &Run{
			RunID:      fmt.Sprintf("run-%02d", i),
			JobID:      fmt.Sprintf("%d", i),
			Status:     status,
			FinishedAt: t0.Add(time.Duration(i/2) * time.Minute),
			Stages:     Stages{{Stage: "upload", DurationMS: 10, Percent: 100}},
		}))
	}
}

func TestMemory_ListPagination(t *testing.T) {
	m := NewMemory(100)
	seed(t, m, 7)

	page, err := m.List(context.Background(), Filter{PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page, 4, "one extra row signals another page")
	assert.Equal(t, []string{"run-06", "run-05", "run-04"}, ids(page[:3]))

	last := page[2]
	next, err := m.List(context.Background(), Filter{
		PageSize: 3,
		Cursor:   &Cursor{FinishedAt: last.FinishedAt, RunID: last.RunID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-03", "run-02", "run-01", "run-00"}, ids(next))
}

func TestMemory_ListFilters(t *testing.T) {
	m := NewMemory(100)
	seed(t, m, 9)

	failed, err := m.List(context.Background(), Filter{Status: domain.RunStatusFailed, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-08", "run-05", "run-02"}, ids(failed))

	byJob, err := m.List(context.Background(), Filter{JobID: "4", PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-04"}, ids(byJob))
}

func TestMemory_CapacityAndReplace(t *testing.T) {
	m := NewMemory(3)
	seed(t, m, 5)

	_, err := m.Get(context.Background(), "run-00")
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, m.Record(context.Background(), &Run{RunID: "run-04", Status: domain.RunStatusAbandoned}))
	run, err := m.Get(context.Background(), "run-04")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusAbandoned, run.Status)

	totals, err := m.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Totals{Total: 3, Completed: 1, Failed: 1, Abandoned: 1}, *totals)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory(10)
	seed(t, m, 1)

	run, err := m.Get(context.Background(), "run-00")
	require.NoError(t, err)
	run.Stages[0].Stage = "mutated"

	again, err := m.Get(context.Background(), "run-00")
	require.NoError(t, err)
	assert.Equal(t, "upload", again.Stages[0].Stage)
}

func TestListQuery(t *testing.T) {
	cursor := &Cursor{FinishedAt: t0, RunID: "run-1"}
	query, args := listQuery(Filter{Status: domain.RunStatusFailed, JobID: "9", PageSize: 20, Cursor: cursor})

	assert.Contains(t, query, "status = $1")
	assert.Contains(t, query, "job_id = $2")
	assert.Contains(t, query, "(finished_at, run_id) < ($3, $4)")
	assert.Contains(t, query, "ORDER BY finished_at DESC, run_id DESC")
	assert.Contains(t, query, "LIMIT $5")
	assert.Equal(t, []any{domain.RunStatusFailed, "9", t0, "run-1", 21}, args)
}

func TestStages_ValueScan(t *testing.T) {
	in := Stages{{Stage: "trigger", DurationMS: 1500, Percent: 12.5}}

	v, err := in.Value()
	require.NoError(t, err)

	var out Stages
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)

	var empty Stages
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)

	assert.Error(t, out.Scan(42))
}

func ids(runs []Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.RunID
	}
	return out
}
