package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Output: &buf, NoColor: true})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("session started", zap.String("unit", "valid login"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "session started")
	assert.Contains(t, out, `"unit": "valid login"`)
}

func TestColoredLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)
	logger.Warn("slow page")
	assert.Contains(t, buf.String(), colorYellow+"WARN"+colorReset)
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "JSON", Output: &buf})
	require.NoError(t, err)

	logger.Debug("probe", zap.Int("attempt", 3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "probe", entry["msg"])
	assert.EqualValues(t, 3, entry["attempt"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "harness.log")
	var buf bytes.Buffer
	logger, err := New(Config{File: path, MaxSizeMB: 1, Output: &buf, NoColor: true})
	require.NoError(t, err)

	logger.Info("written twice")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, "{"), "file output is JSON: %s", line)
	assert.Contains(t, line, "written twice")
	assert.Contains(t, buf.String(), "written twice")
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}
