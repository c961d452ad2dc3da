// Package trigger starts speech synthesis in the external application.
//
// The application offers no completion callback. A Trigger only has to get
// synthesis going; the worker then watches the output directory.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cuongbtq/voice-relay/internal/config"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// ErrNoStrategy is returned when every strategy declined or failed
var ErrNoStrategy = errors.New("no trigger strategy succeeded")

// Request is the synthesis input for one job
type Request struct {
	JobID       string
	Content     string
	VoiceRef    string
	OutfileHint string
}

// NewRequest builds a Request from a queued job
func NewRequest(job *domain.Job) Request {
	return Request{
		JobID:       job.ID.String(),
		Content:     job.Content,
		VoiceRef:    job.VoiceRef,
		OutfileHint: job.OutfileHint,
	}
}

// render substitutes request fields into s
func (r Request) render(s string) string {
	return strings.NewReplacer(
		"{content}", r.Content,
		"{voice}", r.VoiceRef,
		"{outfile}", r.OutfileHint,
		"{id}", r.JobID,
	).Replace(s)
}

// Trigger starts synthesis for a request
type Trigger interface {
	Submit(ctx context.Context, req Request) error
}

// Strategy is one way of starting synthesis. Attempt reports whether it
// succeeded; a false result with a nil error means the strategy does not
// apply.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req Request) (bool, error)
}

// Chain tries strategies in order until one succeeds
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewChain creates a Chain over strategies
func NewChain(logger *slog.Logger, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, logger: logger}
}

// New builds the configured strategy chain. Configuration errors are
// returned here so the process can refuse to start.
func New(cfg config.TriggerConfig, logger *slog.Logger) (*Chain, error) {
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("no trigger strategies configured")
	}

	strategies := make([]Strategy, 0, len(cfg.Strategies))
	for i, sc := range cfg.Strategies {
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", sc.Type, i)
		}

		switch sc.Type {
		case config.TriggerHTTP:
			s, err := NewHTTPStrategy(name, sc.URL, sc.Headers, sc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("trigger strategy %q: %w", name, err)
			}
			strategies = append(strategies, s)
		case config.TriggerCommand:
			s, err := NewCommandStrategy(name, sc.Command, sc.Args, sc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("trigger strategy %q: %w", name, err)
			}
			strategies = append(strategies, s)
		default:
			return nil, fmt.Errorf("trigger strategy %q: unknown type %q", name, sc.Type)
		}
	}

	return NewChain(logger, strategies...), nil
}

// Submit runs the strategies in order and stops at the first success
func (c *Chain) Submit(ctx context.Context, req Request) error {
	var errs []error

	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := s.Attempt(ctx, req)
		if ok {
			c.logger.Info("Synthesis triggered",
				slog.String("job_id", req.JobID),
				slog.String("strategy", s.Name()),
				slog.Int("position", i+1),
			)
			return nil
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			c.logger.Warn("Trigger strategy failed, trying next",
				slog.String("job_id", req.JobID),
				slog.String("strategy", s.Name()),
				slog.Any("error", err),
			)
			continue
		}

		c.logger.Debug("Trigger strategy not applicable",
			slog.String("strategy", s.Name()),
		)
	}

	if len(errs) == 0 {
		return ErrNoStrategy
	}
	return fmt.Errorf("%w: %w", ErrNoStrategy, errors.Join(errs...))
}

// Close releases resources held by the strategies
func (c *Chain) Close() error {
	var errs []error
	for _, s := range c.strategies {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
