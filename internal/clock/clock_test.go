package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_SleepAdvancesTime(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	var seen []time.Time
	fake.OnSleep(func(now time.Time) {
		seen = append(seen, now)
	})

	require.NoError(t, fake.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, fake.Sleep(context.Background(), 3*time.Second))

	assert.Equal(t, start.Add(5*time.Second), fake.Now())
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, fake.Sleeps())
	assert.Equal(t, []time.Time{start.Add(2 * time.Second), start.Add(5 * time.Second)}, seen)
}

func TestFake_SleepHonorsCanceledContext(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fake.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, time.Unix(0, 0), fake.Now())
}

func TestReal_SleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	err := Real().Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(started), time.Second)
}
