package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUseDirectPath(t *testing.T) {
	// An empty allow-list means every model runs in-process.
	exec := &suiteExecutor{cfg: model.SuiteConfig{}}
	assert.True(t, exec.useDirectPath("any-model"))

	exec.cfg.FirstPartyModels = []string{"claude-sonnet-4", "gpt-4o"}
	assert.True(t, exec.useDirectPath("gpt-4o"))
	assert.False(t, exec.useDirectPath("proprietary-remote-model"))
}

func TestEmitReportToFile(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	outcome := model.SuiteOutcome{
		Results: []model.TestRunResult{
			{Title: "t", Run: 1, Passed: true, DurationMs: 1234},
		},
		Total:  1,
		Passed: true,
	}

	path := filepath.Join(t.TempDir(), "report.xml")
	err := emitReport(Options{OutputPath: path, Format: FormatJUnitXML}, outcome)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<testsuite")
	assert.Contains(t, string(data), `name="t"`)
}

func TestRunRejectsUnknownFormat(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	code := Run(context.Background(), Options{TestsPath: "x", EnvPath: "y", Format: "html"})
	assert.Equal(t, ExitConfigError, code)
}

func TestRunConfigErrorExitCode(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	code := Run(context.Background(), Options{
		TestsPath: filepath.Join(t.TempDir(), "does-not-exist.json"),
		EnvPath:   "also-missing.json",
		Format:    FormatJUnitXML,
	})
	assert.Equal(t, ExitConfigError, code)
}
