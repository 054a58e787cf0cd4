package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var stderr bytes.Buffer
	l := New(LoggerConfig{Level: WarnLevel, Stderr: &stderr})

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown", "node", 3)

	out := stderr.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN: shown node=3")

	l.SetLevel(DebugLevel)
	l.Debug("now visible")
	assert.Contains(t, stderr.String(), "DEBUG: now visible")
}

func TestJSONOutput(t *testing.T) {
	var stderr bytes.Buffer
	l := New(LoggerConfig{Level: InfoLevel, Stderr: &stderr, JSONOutput: true})

	l.Error("build failed", "function", "main")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(stderr.Bytes()), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "build failed", entry["message"])
	assert.Equal(t, map[string]interface{}{"function": "main"}, entry["fields"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canary.log")
	var stderr bytes.Buffer
	l := New(LoggerConfig{
		Level:  InfoLevel,
		Stderr: &stderr,
		File:   &FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1},
	})

	l.Info("instrumented", "probes", 12)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{"))
	assert.Contains(t, string(data), `"probes":12`)
	assert.Contains(t, stderr.String(), "instrumented probes=12")

	assert.NoError(t, l.Close())
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "plain", formatMessage("plain"))
	assert.Equal(t, "msg a=1 b=x", formatMessage("msg", "a", 1, "b", "x"))
	assert.Equal(t, "msg extra a=1", formatMessage("msg", "extra", "a", 1))
}

func TestFieldsOddArgs(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"a": 1}, fields("a", 1, "b"))
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, fields("a", 1, "b", 2, "c"))
	assert.Empty(t, fields("a"))
}
