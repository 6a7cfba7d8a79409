package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogWriterDefaultsToStderr(t *testing.T) {
	w, f, err := SetupLogWriter("")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	assert.Nil(t, f)
}

func TestSetupLogWriterCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")

	w, f, err := SetupLogWriter(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	assert.NotNil(t, w)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestSetupLoggerLevels(t *testing.T) {
	SetupLogger(os.Stderr, false)
	assert.NotNil(t, Logger)
	assert.False(t, Logger.Enabled(context.Background(), slog.LevelDebug))

	SetupLogger(os.Stderr, true)
	assert.True(t, Logger.Enabled(context.Background(), slog.LevelDebug))
}
