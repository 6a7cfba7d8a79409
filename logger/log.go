package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
)

var Logger *slog.Logger = slog.New(tint.NewHandler(io.Discard, nil))

const (
	FilePermission = 0644
)

func SetupLogger(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02 15:04:05",
	}

	Logger = slog.New(tint.NewHandler(w, opts))
}

// SetupLogWriter returns the writer logs should go to. When logPath is set,
// logs are duplicated to stderr and the file; the caller owns closing the file.
// Logs go to stderr so reports written to stdout stay machine-parseable.
func SetupLogWriter(logPath string) (io.Writer, *os.File, error) {
	if logPath == "" {
		return os.Stderr, nil, nil
	}

	logDir := filepath.Dir(logPath)
	if logDir != "." && logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePermission)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return io.MultiWriter(os.Stderr, logFile), logFile, nil
}
