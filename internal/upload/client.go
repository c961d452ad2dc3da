package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/voice-relay/internal/clock"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// Form field names
const (
	formFieldFile        = "file"
	formFieldDescription = "description"
	formFieldFolder      = "folder"
)

// Attempt outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeHTTPError = "http_error"
	OutcomeBadBody   = "bad_body"
	OutcomeRejected  = "rejected"
)

// Config holds the storage server settings
type Config struct {
	ServerURL  string
	Path       string
	FolderID   int
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
	UserAgent  string
}

// Metadata describes the uploaded file
type Metadata struct {
	Description string
	FolderID    int
}

// Attempt records one try
type Attempt struct {
	Number     int
	Outcome    string
	HTTPStatus int
	Err        error
}

// Result is the outcome of an upload round
type Result struct {
	Attempts   []Attempt
	StatusCode int
	Response   map[string]any
}

// Client uploads files to the storage server
type Client struct {
	config     Config
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a new upload client
func NewClient(config Config, clk clock.Clock, logger *slog.Logger) *Client {
	if config.Path == "" {
		config.Path = "/api/upload/"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RetryCount < 0 {
		config.RetryCount = 0
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		clock:      clk,
		logger:     logger,
	}
}

// Description is the default upload description for filename
func Description(filename string) string {
	return "Generated audio file: " + filename
}

// Upload sends localPath to the storage server. Transport failures, non-2xx
// responses and unreadable bodies are retried up to RetryCount more times.
// A 2xx response whose body reports failure is final. The local file is
// never touched.
func (c *Client) Upload(ctx context.Context, localPath string, meta Metadata) (*Result, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return &Result{}, fmt.Errorf("failed to stat upload file: %w: %w", domain.ErrLocalIO, err)
	}
	if info.IsDir() {
		return &Result{}, fmt.Errorf("upload path %s is a directory: %w", localPath, domain.ErrLocalIO)
	}

	if meta.FolderID == 0 {
		meta.FolderID = c.config.FolderID
	}
	if meta.Description == "" {
		meta.Description = Description(filepath.Base(localPath))
	}

	endpoint := strings.TrimRight(c.config.ServerURL, "/") + "/" + strings.TrimLeft(c.config.Path, "/")
	maxAttempts := c.config.RetryCount + 1
	result := &Result{}

	c.logger.Info("Uploading file",
		slog.String("file", localPath),
		slog.Int64("size", info.Size()),
		slog.String("endpoint", endpoint),
		slog.Int("folder", meta.FolderID),
	)

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			if err := c.clock.Sleep(ctx, c.config.RetryDelay); err != nil {
				return result, err
			}
		}

		attempt := c.attempt(ctx, endpoint, localPath, meta)
		attempt.Number = n
		result.Attempts = append(result.Attempts, attempt.Attempt)
		result.StatusCode = attempt.HTTPStatus

		if attempt.Outcome == OutcomeSuccess {
			result.Response = attempt.body
			c.logger.Info("Upload succeeded",
				slog.String("file", filepath.Base(localPath)),
				slog.Int("attempt", n),
				slog.Int("status", attempt.HTTPStatus),
			)
			return result, nil
		}

		lastErr = attempt.Err
		c.logger.Warn("Upload attempt failed",
			slog.Int("attempt", n),
			slog.Int("max_attempts", maxAttempts),
			slog.String("outcome", attempt.Outcome),
			slog.String("class", domain.Classify(attempt.Err)),
			slog.Any("error", attempt.Err),
		)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if attempt.Outcome == OutcomeRejected {
			return result, attempt.Err
		}
	}

	return result, fmt.Errorf("upload failed after %d attempts: %w", maxAttempts, lastErr)
}

type attemptResult struct {
	Attempt
	body map[string]any
}

func (c *Client) attempt(ctx context.Context, endpoint, localPath string, meta Metadata) attemptResult {
	body, contentType, err := buildForm(localPath, meta)
	if err != nil {
		// the file vanished or became unreadable between attempts
		return attemptResult{Attempt: Attempt{Outcome: OutcomeTransient, Err: fmt.Errorf("%w: %w", domain.ErrLocalIO, err)}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return attemptResult{Attempt: Attempt{Outcome: OutcomeTransient, Err: fmt.Errorf("failed to create request: %w", err)}}
	}
	req.Header.Set("Content-Type", contentType)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return attemptResult{Attempt: Attempt{Outcome: OutcomeTransient, Err: domain.NewRetryableError(err)}}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{Attempt: Attempt{
			Outcome:    OutcomeTransient,
			HTTPStatus: resp.StatusCode,
			Err:        domain.NewRetryableError(fmt.Errorf("failed to read response: %w", err)),
		}}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return attemptResult{Attempt: Attempt{
			Outcome:    OutcomeHTTPError,
			HTTPStatus: resp.StatusCode,
			Err:        &domain.RemoteError{Op: "upload", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))},
		}}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return attemptResult{Attempt: Attempt{
			Outcome:    OutcomeBadBody,
			HTTPStatus: resp.StatusCode,
			Err:        domain.NewRetryableError(fmt.Errorf("failed to decode response: %w", err)),
		}}
	}

	if msg, ok := rejection(decoded); !ok {
		return attemptResult{Attempt: Attempt{
			Outcome:    OutcomeRejected,
			HTTPStatus: resp.StatusCode,
			Err:        &domain.RemoteError{Op: "upload", StatusCode: resp.StatusCode, Message: msg},
		}}
	}

	return attemptResult{
		Attempt: Attempt{Outcome: OutcomeSuccess, HTTPStatus: resp.StatusCode},
		body:    decoded,
	}
}

// rejection inspects an application status field. It returns ok=false and
// the server's message when the body reports failure.
func rejection(body map[string]any) (string, bool) {
	msg, _ := body["message"].(string)
	if msg == "" {
		msg, _ = body["error"].(string)
	}

	if status, ok := body["status"].(string); ok {
		switch strings.ToLower(status) {
		case "success", "ok":
		default:
			if msg == "" {
				msg = "status " + status
			}
			return msg, false
		}
	}

	if success, ok := body["success"].(bool); ok && !success {
		if msg == "" {
			msg = "success=false"
		}
		return msg, false
	}

	return "", true
}

func buildForm(localPath string, meta Metadata) (io.Reader, string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filepath.Base(localPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy file data: %w", err)
	}

	if err := writer.WriteField(formFieldDescription, meta.Description); err != nil {
		return nil, "", fmt.Errorf("failed to write description field: %w", err)
	}

	if err := writer.WriteField(formFieldFolder, strconv.Itoa(meta.FolderID)); err != nil {
		return nil, "", fmt.Errorf("failed to write folder field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
