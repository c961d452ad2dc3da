package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/voice-relay/internal/clock"
	"github.com/cuongbtq/voice-relay/internal/worker/domain"
	"github.com/cuongbtq/voice-relay/shared/logger"
)

func writeWav(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greeting.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o644))
	return path
}

func newTestClient(serverURL string, retryCount int) (*Client, *clock.Fake) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	client := NewClient(Config{
		ServerURL:  serverURL,
		FolderID:   4,
		RetryCount: retryCount,
		RetryDelay: 2 * time.Second,
		UserAgent:  "voice-relay-test",
	}, fake, logger.NewNop().Logger)
	return client, fake
}

// failingServer answers the first failures requests with 503 and then
// succeeds
func failingServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status": "success", "id": 99}`))
	}))
	t.Cleanup(server.Close)

	return server, &hits
}

func TestUpload_SendsMultipartForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload/", r.URL.Path)
		assert.Equal(t, "voice-relay-test", r.UserAgent())

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Generated audio file: greeting.wav", r.FormValue("description"))
		assert.Equal(t, "4", r.FormValue("folder"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "greeting.wav", header.Filename)
		assert.Equal(t, "RIFF....WAVE", string(data))

		_, _ = w.Write([]byte(`{"status": "success", "file_id": 12}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, 3)

	result, err := client.Upload(context.Background(), writeWav(t), Metadata{})
	require.NoError(t, err)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, OutcomeSuccess, result.Attempts[0].Outcome)
	assert.Equal(t, float64(12), result.Response["file_id"])
}

func TestUpload_RetryBudget(t *testing.T) {
	tests := []struct {
		name         string
		failures     int32
		retryCount   int
		wantErr      bool
		wantAttempts int
	}{
		{name: "no failures", failures: 0, retryCount: 3, wantAttempts: 1},
		{name: "failures within budget", failures: 2, retryCount: 3, wantAttempts: 3},
		{name: "failures equal to budget", failures: 3, retryCount: 3, wantAttempts: 4},
		{name: "failures exceed budget", failures: 5, retryCount: 3, wantErr: true, wantAttempts: 4},
		{name: "no retries allowed", failures: 1, retryCount: 0, wantErr: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, hits := failingServer(t, tt.failures)
			client, fake := newTestClient(server.URL, tt.retryCount)

			result, err := client.Upload(context.Background(), writeWav(t), Metadata{})

			assert.Len(t, result.Attempts, tt.wantAttempts)
			assert.Equal(t, int32(tt.wantAttempts), hits.Load())
			assert.Len(t, fake.Sleeps(), tt.wantAttempts-1)

			for i, a := range result.Attempts {
				assert.Equal(t, i+1, a.Number)
			}

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrRemoteApplication)
				assert.Equal(t, OutcomeHTTPError, result.Attempts[len(result.Attempts)-1].Outcome)
			} else {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, result.StatusCode)
			}
		})
	}
}

func TestUpload_ApplicationRejectionIsFinal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "error status", body: `{"status": "error", "message": "folder is read-only"}`},
		{name: "success false", body: `{"success": false, "error": "quota exceeded"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, fake := newTestClient(server.URL, 3)
			result, err := client.Upload(context.Background(), writeWav(t), Metadata{})

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrRemoteApplication)
			assert.Equal(t, int32(1), hits.Load())
			assert.Empty(t, fake.Sleeps())
			require.Len(t, result.Attempts, 1)
			assert.Equal(t, OutcomeRejected, result.Attempts[0].Outcome)
		})
	}
}

func TestUpload_UndecodableBodyIsRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(`<html>proxy error</html>`))
			return
		}
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, 1)
	result, err := client.Upload(context.Background(), writeWav(t), Metadata{Description: "custom", FolderID: 9})

	require.NoError(t, err)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, OutcomeBadBody, result.Attempts[0].Outcome)
	assert.Equal(t, OutcomeSuccess, result.Attempts[1].Outcome)
}

func TestUpload_TransportErrorsAreRetried(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, fake := newTestClient(server.URL, 2)
	result, err := client.Upload(context.Background(), writeWav(t), Metadata{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientNetwork)
	assert.Len(t, result.Attempts, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, fake.Sleeps())
}

func TestUpload_MissingFileMakesNoAttempt(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, 3)
	result, err := client.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.wav"), Metadata{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLocalIO)
	assert.Empty(t, result.Attempts)
	assert.Zero(t, hits.Load())
}

func TestUpload_CanceledBetweenAttempts(t *testing.T) {
	server, hits := failingServer(t, 10)
	client, fake := newTestClient(server.URL, 5)

	ctx, cancel := context.WithCancel(context.Background())
	fake.OnSleep(func(time.Time) { cancel() })

	result, err := client.Upload(ctx, writeWav(t), Metadata{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.Attempts, 1)
	assert.Equal(t, int32(1), hits.Load())
}
