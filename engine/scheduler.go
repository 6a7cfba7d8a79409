package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
)

// CaseExecutor runs every repetition of one test case and returns one result
// per repetition. Injected so scheduler tests can run without servers or
// model clients.
type CaseExecutor interface {
	Execute(ctx context.Context, tc model.TestCase) []model.TestRunResult
}

// Scheduler fans test cases out over a bounded worker pool. Workers claim
// cases through an atomic cursor; a case's repetitions always run
// sequentially inside one worker.
type Scheduler struct {
	Concurrency int
	Executor    CaseExecutor
}

func (s *Scheduler) Run(ctx context.Context, tests []model.TestCase, rec *Recorder) {
	if len(tests) == 0 {
		return
	}

	workers := s.Concurrency
	if workers < model.ConcurrencyFloor {
		workers = model.DefaultConcurrency
	}
	if workers > len(tests) {
		workers = len(tests)
	}

	logger.Logger.Info("Starting scheduler",
		"tests", len(tests),
		"workers", workers)

	var cursor atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(tests) {
					return
				}

				tc := tests[idx]
				logger.Logger.Debug("Worker claimed test case",
					"worker", worker,
					"test", tc.Title)

				for _, res := range s.executeSafe(ctx, tc) {
					rec.Append(res)
				}
			}
		}(w)
	}

	wg.Wait()
}

// executeSafe isolates a test case: a panic inside execution fails that
// case's runs and lets the rest of the suite proceed.
func (s *Scheduler) executeSafe(ctx context.Context, tc model.TestCase) (results []model.TestRunResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error("Test case panicked",
				"test", tc.Title,
				"panic", r)
			results = FailCaseRuns(tc, fmt.Sprintf("test case panicked: %v", r))
		}
	}()

	return s.Executor.Execute(ctx, tc)
}

// FailCaseRuns builds one failing result per configured repetition, used
// when a setup error or panic prevents any iteration from running.
func FailCaseRuns(tc model.TestCase, errMsg string) []model.TestRunResult {
	results := make([]model.TestRunResult, 0, tc.EffectiveRuns())
	for run := 1; run <= tc.EffectiveRuns(); run++ {
		results = append(results, model.TestRunResult{
			Title:      tc.Title,
			Run:        run,
			Passed:     false,
			Evaluation: model.EvaluateToolCalls(tc.ExpectedToolCalls, nil, errMsg),
			Error:      errMsg,
		})
	}
	return results
}
