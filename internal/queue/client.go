package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/voice-relay/internal/clock"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

const (
	statusSuccess = "success"

	// heartbeatEvery controls how often an idle fetch loop reports progress
	heartbeatEvery = 10
)

// Config holds the queue client settings
type Config struct {
	BaseURL        string
	Resource       string
	RequestTimeout time.Duration
	PeekTimeout    time.Duration
}

// Client talks to the remote job queue
type Client struct {
	config     Config
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// listResponse is the body of GET {resource}/list/
type listResponse struct {
	Status  string       `json:"status"`
	Items   []domain.Job `json:"items"`
	Message string       `json:"message"`
}

// statusResponse is the body of delete and clear calls
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewClient creates a new queue client
func NewClient(config Config, clk clock.Clock, logger *slog.Logger) *Client {
	if config.Resource == "" {
		config.Resource = "queue"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.PeekTimeout <= 0 {
		config.PeekTimeout = 5 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{},
		clock:      clk,
		logger:     logger,
	}
}

// FetchNext polls the queue until it holds at least one job or maxWait
// elapses. Empty lists and transport failures are retried after
// pollInterval; a failure reported by the server is returned immediately.
// Requests and sleeps are cut to the budget left, so a slow round never
// extends it. An exhausted budget yields domain.ErrTimeout.
func (c *Client) FetchNext(ctx context.Context, maxWait, pollInterval time.Duration) (*domain.Job, error) {
	start := c.clock.Now()
	checks := 0

	c.logger.Info("Waiting for queued job",
		slog.String("endpoint", c.endpoint("list")),
		slog.Duration("max_wait", maxWait),
		slog.Duration("poll_interval", pollInterval),
	)

	for {
		elapsed := c.clock.Now().Sub(start)
		remaining := maxWait - elapsed
		if checks > 0 && remaining <= 0 {
			c.logger.Warn("No job arrived before the wait budget expired",
				slog.Int("checks", checks),
				slog.Duration("elapsed", elapsed),
			)
			return nil, fmt.Errorf("fetch next job after %d checks: %w", checks, domain.ErrTimeout)
		}

		timeout := c.config.RequestTimeout
		if remaining > 0 {
			timeout = min(timeout, remaining)
		}

		checks++
		list, err := c.list(ctx, timeout)
		switch {
		case err == nil:
			if len(list.Items) > 0 {
				job := list.Items[0]
				c.logger.Info("Fetched job",
					slog.String("job_id", job.ID.String()),
					slog.String("voice", job.VoiceRef),
					slog.String("outfile", job.OutfileHint),
					slog.String("created_at", job.CreatedAt.String()),
					slog.Int("remaining", len(list.Items)-1),
					slog.Int("checks", checks),
				)
				return &job, nil
			}

			if checks%heartbeatEvery == 0 {
				c.logger.Info("Queue still empty",
					slog.Int("checks", checks),
					slog.Duration("elapsed", c.clock.Now().Sub(start)),
				)
			}
		case domain.IsRetryable(err):
			c.logger.Warn("Queue unreachable, will retry",
				slog.Int("checks", checks),
				slog.Any("error", err),
			)
		default:
			return nil, err
		}

		remaining = maxWait - c.clock.Now().Sub(start)
		if remaining <= 0 {
			continue
		}

		if err := c.clock.Sleep(ctx, min(pollInterval, remaining)); err != nil {
			return nil, err
		}
	}
}

// Pending reports how many jobs are queued using one short list query
func (c *Client) Pending(ctx context.Context) (int, error) {
	list, err := c.list(ctx, c.config.PeekTimeout)
	if err != nil {
		return 0, err
	}
	return len(list.Items), nil
}

// Delete removes a job from the queue. Every failure is returned to the
// caller, which decides whether it matters.
func (c *Client) Delete(ctx context.Context, id domain.JobID) error {
	if id == "" {
		return fmt.Errorf("failed to delete job: %w", domain.ErrMissingJobID)
	}

	endpoint := c.endpoint("delete", url.PathEscape(id.String()))

	if err := c.call(ctx, http.MethodPost, endpoint, "delete job"); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	c.logger.Info("Deleted job from queue", slog.String("job_id", id.String()))
	return nil
}

// Clear removes every queued job
func (c *Client) Clear(ctx context.Context) error {
	if err := c.call(ctx, http.MethodGet, c.endpoint("clear"), "clear queue"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	c.logger.Info("Cleared queue", slog.String("resource", c.config.Resource))
	return nil
}

func (c *Client) list(ctx context.Context, timeout time.Duration) (*listResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.endpoint("list"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, "list queue", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, "list queue", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.RemoteError{Op: "list queue", StatusCode: resp.StatusCode, Message: snippet(body)}
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &domain.RemoteError{
			Op:         "list queue",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("undecodable body: %v", err),
		}
	}

	if list.Status != statusSuccess {
		return nil, &domain.RemoteError{Op: "list queue", StatusCode: resp.StatusCode, Message: list.Message}
	}

	return &list, nil
}

func (c *Client) call(ctx context.Context, method, endpoint, op string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(ctx, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: snippet(body)}
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("undecodable body: %v", err)}
	}

	if status.Status != statusSuccess {
		return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: status.Message}
	}

	return nil
}

// transportError marks connection failures as retryable unless the caller's
// own context ended, in which case the cancellation is returned as-is.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return domain.NewRetryableError(fmt.Errorf("%s: %w", op, err))
}

func (c *Client) endpoint(parts ...string) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	return base + "/" + c.config.Resource + "/" + strings.Join(parts, "/") + "/"
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

// IsTimeout reports whether err is an exhausted fetch budget
func IsTimeout(err error) bool {
	return errors.Is(err, domain.ErrTimeout)
}
