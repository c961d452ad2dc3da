package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// HTTPStrategy posts the request to a synthesis endpoint
type HTTPStrategy struct {
	name       string
	url        string
	headers    map[string]string
	httpClient *http.Client
}

type httpPayload struct {
	JobID   string `json:"job_id"`
	Content string `json:"content"`
	Voice   string `json:"voice"`
	Outfile string `json:"outfile"`
}

// NewHTTPStrategy creates an HTTPStrategy
func NewHTTPStrategy(name, endpoint string, headers map[string]string, timeout time.Duration) (*HTTPStrategy, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", endpoint)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPStrategy{
		name:       name,
		url:        endpoint,
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the strategy name
func (s *HTTPStrategy) Name() string {
	return s.name
}

// Attempt posts the request. Any 2xx response counts as success.
func (s *HTTPStrategy) Attempt(ctx context.Context, req Request) (bool, error) {
	body, err := json.Marshal(httpPayload{
		JobID:   req.JobID,
		Content: req.Content,
		Voice:   req.VoiceRef,
		Outfile: req.OutfileHint,
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		httpReq.Header.Set(k, req.render(v))
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return false, domain.NewRetryableError(err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &domain.RemoteError{Op: "trigger " + s.name, StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	return true, nil
}

// Close drops idle connections
func (s *HTTPStrategy) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
