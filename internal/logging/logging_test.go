package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.TelemetryConfig{LogLevel: "info", LogFormat: "json"})
	logger.Debug("hidden")
	logger.Info("visible", Error(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
}

func TestTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.TelemetryConfig{LogLevel: "debug", LogFormat: "text"})
	logger.Debug("detail", slog.String("component", "test"))
	assert.Contains(t, buf.String(), "component=test")
}
