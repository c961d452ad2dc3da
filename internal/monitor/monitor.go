// Package monitor decides when an external producer has finished writing
// into a directory, using only filesystem observation.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/cuongbtq/voice-relay/internal/clock"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// Config holds the quiescence settings
type Config struct {
	PollInterval    time.Duration
	NoUpdateTimeout time.Duration
	MaxWait         time.Duration
	RequireActivity bool
}

// Snapshot is the set of entry names in a directory at one poll
type Snapshot map[string]struct{}

// Added returns the names present in s but not in prev, sorted
func (s Snapshot) Added(prev Snapshot) []string {
	var added []string
	for name := range s {
		if _, ok := prev[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	return added
}

// Result describes a completed wait
type Result struct {
	Scans      int
	NewEntries []string
	Elapsed    time.Duration
	Idle       time.Duration
}

// Monitor polls a watched root until it stops changing
type Monitor struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a new Monitor
func New(config Config, clk clock.Clock, logger *slog.Logger) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}

	return &Monitor{
		config: config,
		clock:  clk,
		logger: logger,
	}
}

// WaitForQuiescence blocks until root has produced no new entries for
// NoUpdateTimeout. Every addition resets the idle clock. The whole wait is
// bounded by MaxWait measured from the call, and exceeding it returns
// domain.ErrTimeout. Sleeps are cut to the budget left. Removals are never
// treated as activity.
func (m *Monitor) WaitForQuiescence(ctx context.Context, root string) (*Result, error) {
	start := m.clock.Now()
	lastUpdate := start
	baseline := m.snapshot(root)
	result := &Result{}

	m.logger.Info("Watching for output",
		slog.String("root", root),
		slog.Int("baseline_entries", len(baseline)),
		slog.Duration("no_update_timeout", m.config.NoUpdateTimeout),
		slog.Duration("max_wait", m.config.MaxWait),
	)

	for {
		now := m.clock.Now()
		result.Elapsed = now.Sub(start)

		current := m.snapshot(root)
		result.Scans++

		if added := current.Added(baseline); len(added) > 0 {
			lastUpdate = now
			baseline = current
			result.NewEntries = append(result.NewEntries, added...)

			m.logger.Info("New output detected",
				slog.Any("entries", added),
				slog.Duration("elapsed", result.Elapsed),
			)
		} else {
			result.Idle = now.Sub(lastUpdate)
			if result.Idle >= m.config.NoUpdateTimeout {
				if m.config.RequireActivity && len(result.NewEntries) == 0 {
					return result, fmt.Errorf("wait for quiescence of %s: %w", root, domain.ErrNoActivity)
				}

				m.logger.Info("Output settled",
					slog.String("root", root),
					slog.Int("scans", result.Scans),
					slog.Int("new_entries", len(result.NewEntries)),
					slog.Duration("idle", result.Idle),
					slog.Duration("elapsed", result.Elapsed),
				)
				return result, nil
			}
		}

		remaining := m.config.MaxWait - m.clock.Now().Sub(start)
		if remaining <= 0 {
			m.logger.Warn("Output did not settle before the wait budget expired",
				slog.String("root", root),
				slog.Int("scans", result.Scans),
				slog.Int("new_entries", len(result.NewEntries)),
				slog.Duration("elapsed", result.Elapsed),
			)
			return result, fmt.Errorf("wait for quiescence of %s: %w", root, domain.ErrTimeout)
		}

		if err := m.clock.Sleep(ctx, min(m.config.PollInterval, remaining)); err != nil {
			return result, err
		}
	}
}

// snapshot lists root. A missing root is an empty snapshot; other read
// errors are logged and also yield an empty snapshot, which can never look
// like an addition.
func (m *Monitor) snapshot(root string) Snapshot {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Failed to scan watched root",
				slog.String("root", root),
				slog.Any("error", err),
			)
		}
		return Snapshot{}
	}

	snap := make(Snapshot, len(entries))
	for _, entry := range entries {
		snap[entry.Name()] = struct{}{}
	}
	return snap
}
