package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	level, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLoggerWithOptions_File(t *testing.T) {
	var buf bytes.Buffer

	log, err := NewLoggerWithOptions(Options{Level: "info", File: &buf})
	require.NoError(t, err)

	log.With("tg_chat_id", 42).Info("video sent", "size", "12 MB")
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "video sent")
	assert.Contains(t, out, "tg_chat_id=42")
	assert.NotContains(t, out, "hidden")
}
