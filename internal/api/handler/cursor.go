package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/voice-relay/internal/worker/storage"
)

func DecodeRunCursor(cursorStr string) (*storage.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var finishedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &finishedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid finishedAt in cursor: %w", err)
	}

	return &storage.Cursor{
		FinishedAt: time.Unix(0, finishedAt).UTC(),
		RunID:      decodedParts[1],
	}, nil
}

func EncodeRunCursor(cursor *storage.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.FinishedAt.UnixNano(), cursor.RunID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
