package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewWritesJSONAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(Config{Level: "info", Format: "json"}, &buf)

	log.Info("proxy configured", "server", "http://gate:7000", "proxy_password", "hunter2")
	log.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "proxy configured", entry["msg"])
	assert.Equal(t, "***REDACTED***", entry["proxy_password"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewAlsoWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawler.log")
	var buf bytes.Buffer
	log := newWithWriter(Config{Level: "debug", Format: "text", FilePath: path}, &buf)

	log.Debug("batch started", "batch", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch started")
	assert.Contains(t, buf.String(), "batch=1")
}
