package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: LevelInfo, Output: &buf})
	t.Cleanup(func() { Init(Options{}) })

	Info("store loaded", "date", "2026-01-25", "events", 3, 42, "skipped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "store loaded", line["message"])
	assert.Equal(t, "2026-01-25", line["date"])
	assert.EqualValues(t, 3, line["events"])
	assert.Equal(t, "info", line["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: LevelWarn, Output: &buf})
	t.Cleanup(func() { Init(Options{}) })

	Debug("hidden")
	Info("hidden")
	assert.Zero(t, buf.Len())

	Error("odoo call failed", errors.New("boom"), "path", "/agial/calendar/meta")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "error", line["level"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"WARN", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}
