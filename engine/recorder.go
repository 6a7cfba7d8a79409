package engine

import (
	"sync"
	"time"

	"github.com/MCPJam/inspector-sub001/model"
)

// Recorder collects iteration results from concurrent workers. Append is the
// only write path; each iteration's result enters exactly once.
type Recorder struct {
	mu      sync.Mutex
	results []model.TestRunResult
	started time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		results: make([]model.TestRunResult, 0),
		started: time.Now(),
	}
}

func (r *Recorder) Append(res model.TestRunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Outcome snapshots the collected results into the suite-level aggregate.
func (r *Recorder) Outcome() model.SuiteOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	failures := 0
	for _, res := range r.results {
		if !res.Passed {
			failures++
		}
	}

	results := make([]model.TestRunResult, len(r.results))
	copy(results, r.results)

	return model.SuiteOutcome{
		Results:    results,
		Total:      len(results),
		Failures:   failures,
		Passed:     failures == 0,
		DurationMs: time.Since(r.started).Milliseconds(),
	}
}
