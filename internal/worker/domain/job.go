package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// JobID is the opaque identifier assigned by the queue server. The server
// may encode it as a JSON number or a JSON string.
type JobID string

// UnmarshalJSON accepts both numeric and string identifiers
func (id *JobID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		*id = JobID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}
	*id = JobID(n.String())
	return nil
}

func (id JobID) String() string {
	return string(id)
}

// Job represents one unit of synthesis work pulled from the remote queue.
// A Job is read-only for its whole processing round.
type Job struct {
	ID          JobID     `json:"id"`
	VoiceRef    string    `json:"voice"`
	OutfileHint string    `json:"outfile"`
	Content     string    `json:"content"`
	CreatedAt   QueueTime `json:"created_at"`
}

// ContentPreview returns at most n runes of the job content for logging
func (j *Job) ContentPreview(n int) string {
	runes := []rune(j.Content)
	if len(runes) <= n {
		return j.Content
	}
	return string(runes[:n]) + "..."
}

// QueueTime is the created_at timestamp reported by the queue server. It is
// used for display only, so unparseable values are kept verbatim.
type QueueTime struct {
	Time time.Time
	Raw  string
}

var queueTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON parses the server timestamp, tolerating unknown layouts
func (t *QueueTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		// Non-string timestamps are kept as their literal form
		t.Raw = string(bytes.TrimSpace(data))
		return nil
	}

	t.Raw = raw
	for _, layout := range queueTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

// MarshalJSON writes the original server value back out
func (t QueueTime) MarshalJSON() ([]byte, error) {
	if t.Raw == "" && !t.Time.IsZero() {
		return json.Marshal(t.Time.Format(time.RFC3339Nano))
	}
	return json.Marshal(t.Raw)
}

func (t QueueTime) String() string {
	return t.Raw
}
