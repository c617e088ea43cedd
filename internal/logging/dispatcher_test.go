package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(*DispatcherLogger, string, ...any)
	}{
		{"debug", (*DispatcherLogger).Debug},
		{"info", (*DispatcherLogger).Info},
		{"error", (*DispatcherLogger).Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

			tt.log(dl, "queued", "command", ":SKETCH:MODIFIED:", "lane", "sync")

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "queued", entry["message"])
			assert.Equal(t, "dispatcher", entry["component"])
			assert.Equal(t, ":SKETCH:MODIFIED:", entry["command"])
			assert.Equal(t, "sync", entry["lane"])
		})
	}
}

func TestDispatcherLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestDispatcherLogger_ErrorValues(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Error("queued event failed", "error", errors.New("no active session"), "queue", 3)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "no active session", entry["error"])
	assert.Equal(t, float64(3), entry["queue"])
}

func TestDispatcherLogger_OddKeys(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("odd", 7, "seven", "dangling")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "seven", entry["7"])
	assert.Equal(t, "dangling", entry["!BADKEY"])
}
