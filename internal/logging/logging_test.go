package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehiehn/taskdsl/internal/config"
)

func TestJSONLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskdsl.log")
	logger, err := New(config.LogConfig{Level: "info", Format: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("plan started")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "plan started", rec["msg"])
	assert.Contains(t, rec, "timestamp")
}

func TestRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "console"})
	assert.Error(t, err)
}
