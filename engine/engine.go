package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MCPJam/inspector-sub001/agent"
	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
	"github.com/MCPJam/inspector-sub001/report"
	"github.com/MCPJam/inspector-sub001/server"
	"github.com/MCPJam/inspector-sub001/tracker"
	"github.com/life4/genesis/slices"
)

const (
	FormatJUnitXML = "junit-xml"
	FormatJSON     = "json"

	defaultBackendURL = "https://api.mcpjam.com"
)

// Exit codes: 0 all iterations passed, 1 the suite ran to completion with
// failures, 2 the configuration never validated and nothing ran.
const (
	ExitPassed      = 0
	ExitFailures    = 1
	ExitConfigError = 2
)

// Options is the engine entrypoint configuration, mapped from CLI flags.
type Options struct {
	TestsPath  string
	EnvPath    string
	OutputPath string
	Format     string
}

// Run loads and validates both config files, executes the suite, and emits
// the report.
func Run(ctx context.Context, opts Options) int {
	if opts.Format != FormatJUnitXML && opts.Format != FormatJSON {
		logger.Logger.Error("Unsupported report format",
			"format", opts.Format,
			"supported", []string{FormatJUnitXML, FormatJSON})
		return ExitConfigError
	}

	tf, err := model.ParseTestsFile(opts.TestsPath)
	if err != nil {
		logger.Logger.Error("Failed to load tests file", "path", opts.TestsPath, "error", err)
		return ExitConfigError
	}

	ef, err := model.ParseEnvironmentFile(opts.EnvPath)
	if err != nil {
		logger.Logger.Error("Failed to load environment file", "path", opts.EnvPath, "error", err)
		return ExitConfigError
	}

	if err := model.ValidateTestServers(tf, ef); err != nil {
		logger.Logger.Error("Configuration validation failed", "error", err)
		return ExitConfigError
	}

	workspaceRoot := filepath.Dir(opts.TestsPath)
	if abs, absErr := filepath.Abs(opts.TestsPath); absErr == nil {
		workspaceRoot = filepath.Dir(abs)
	}

	trk := tracker.New(ef.Tracker)

	backendURL := tf.Config.BackendURL
	if backendURL == "" {
		backendURL = defaultBackendURL
	}

	exec := &suiteExecutor{
		env:           ef,
		cfg:           tf.Config,
		workspaceRoot: workspaceRoot,
		backend:       agent.NewBackendClient(backendURL, nil),
		trk:           trk,
		persist: &suitePersistence{
			trk: trk,
			meta: tracker.SuiteMeta{
				Name:      filepath.Base(opts.TestsPath),
				Total:     len(tf.Tests),
				StartedAt: time.Now(),
			},
		},
	}

	rec := NewRecorder()
	sched := &Scheduler{
		Concurrency: tf.Config.EffectiveConcurrency(),
		Executor:    exec,
	}
	sched.Run(ctx, tf.Tests, rec)

	outcome := rec.Outcome()

	if err := emitReport(opts, outcome); err != nil {
		logger.Logger.Error("Failed to write report", "error", err)
		return ExitFailures
	}

	report.PrintSummary(os.Stdout, outcome)

	if outcome.Passed {
		return ExitPassed
	}
	return ExitFailures
}

func emitReport(opts Options, outcome model.SuiteOutcome) error {
	var w io.Writer = os.Stdout
	if opts.OutputPath != "" {
		f, err := os.Create(opts.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.Format {
	case FormatJSON:
		return report.WriteJSON(w, outcome)
	default:
		return report.WriteJUnitXML(w, outcome)
	}
}

// suitePersistence creates the remote suite record lazily: the first test
// case to report triggers the create, later ones reuse the id. A failed
// create yields the empty id and downgrades all dependent calls to no-ops.
type suitePersistence struct {
	trk  tracker.Tracker
	meta tracker.SuiteMeta

	once    sync.Once
	suiteID string
}

func (p *suitePersistence) suite(ctx context.Context) string {
	p.once.Do(func() {
		p.suiteID = p.trk.CreateSuite(ctx, p.meta)
	})
	return p.suiteID
}

func (p *suitePersistence) testCase(ctx context.Context, tc model.TestCase) string {
	suiteID := p.suite(ctx)
	if suiteID == "" {
		return ""
	}
	return p.trk.CreateTestCase(ctx, suiteID, tracker.CaseMeta{
		Title:             tc.Title,
		Provider:          string(tc.Model.Provider),
		ModelID:           tc.Model.ID,
		ExpectedToolCalls: tc.ExpectedToolCalls,
		Runs:              tc.EffectiveRuns(),
	})
}

// suiteExecutor owns the per-test-case lifecycle: resolve and connect the
// servers once, run every repetition against the shared connections, tear
// down after the last one.
type suiteExecutor struct {
	env           *model.EnvironmentFile
	cfg           model.SuiteConfig
	workspaceRoot string
	backend       *agent.BackendClient
	trk           tracker.Tracker
	persist       *suitePersistence
}

func (e *suiteExecutor) Execute(ctx context.Context, tc model.TestCase) []model.TestRunResult {
	conns, err := server.ResolveConnections(e.env, tc.Servers, e.workspaceRoot)
	if err != nil {
		return FailCaseRuns(tc, err.Error())
	}

	servers := make([]*server.MCPServer, 0, len(conns))
	for _, conn := range conns {
		srv, connErr := server.Connect(ctx, conn)
		if connErr != nil {
			closeServers(servers)
			return FailCaseRuns(tc, connErr.Error())
		}
		servers = append(servers, srv)
	}
	defer closeServers(servers)

	for _, srv := range servers {
		srv.IsHealthy(ctx)
	}

	runner := agent.NewRunner(tc.Title, tc.Model.ID, servers, tc.Advanced.AllowedTools)

	if e.useDirectPath(tc.Model.ID) {
		llm, modelErr := NewChatModel(ctx, tc.Model, e.env)
		if modelErr != nil {
			return FailCaseRuns(tc, modelErr.Error())
		}
		runner.LLM = llm
	} else {
		runner.Backend = e.backend
	}

	caseID := e.persist.testCase(ctx, tc)

	iterCfg := agent.IterationConfig{
		Prompt:      tc.Prompt,
		System:      tc.Advanced.System,
		Temperature: tc.Advanced.Temperature,
		ToolChoice:  tc.Advanced.ToolChoice,
		TimeoutMs:   tc.Advanced.TimeoutMs,
		MaxSteps:    tc.EffectiveMaxSteps(),
	}

	results := make([]model.TestRunResult, 0, tc.EffectiveRuns())
	for run := 1; run <= tc.EffectiveRuns(); run++ {
		started := time.Now()
		iterID := e.trk.CreateIteration(ctx, caseID, run, started)

		out := runner.RunIteration(ctx, iterCfg)

		errMsg := ""
		if out.Err != nil {
			errMsg = out.Err.Error()
		}
		eval := model.EvaluateToolCalls(tc.ExpectedToolCalls, out.CalledTools, errMsg)

		res := model.TestRunResult{
			Title:      tc.Title,
			Run:        run,
			Passed:     eval.Passed,
			DurationMs: time.Since(started).Milliseconds(),
			Evaluation: eval,
			Usage:      out.Usage,
			Error:      errMsg,
			StartedAt:  started,
		}
		results = append(results, res)

		e.trk.UpdateIterationResult(ctx, iterID, tracker.IterationUpdate{
			Passed:     eval.Passed,
			DurationMs: res.DurationMs,
			ToolCalls:  out.CalledTools,
			Usage:      out.Usage,
			Error:      errMsg,
			Transcript: out.Steps,
		})

		logger.Logger.Info("Iteration finished",
			"test", tc.Title,
			"run", run,
			"passed", eval.Passed,
			"duration_ms", res.DurationMs)
	}

	return results
}

// useDirectPath reports whether the model runs in-process. An empty
// allow-list means every model is first-party.
func (e *suiteExecutor) useDirectPath(modelID string) bool {
	if len(e.cfg.FirstPartyModels) == 0 {
		return true
	}
	return slices.Contains(e.cfg.FirstPartyModels, modelID)
}

func closeServers(servers []*server.MCPServer) {
	for _, srv := range servers {
		if err := srv.Close(); err != nil {
			logger.Logger.Warn("Failed to close server", "server", srv.Name, "error", err)
		}
	}
}
