package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
)

// PrintSummary writes the human-readable end-of-run summary. Reports go to
// the selected writer or file; this always targets the console.
func PrintSummary(w io.Writer, outcome model.SuiteOutcome) {
	if outcome.Total == 0 {
		logger.Logger.Info("No tests were run")
		return
	}

	passed := outcome.Total - outcome.Failures
	passRate := float64(passed) / float64(outcome.Total) * 100
	failRate := float64(outcome.Failures) / float64(outcome.Total) * 100

	totalToolCalls := 0
	totalTokens := 0
	for _, res := range outcome.Results {
		totalToolCalls += len(res.Evaluation.CalledTools)
		totalTokens += res.Usage.TotalTokens
	}

	avgDuration := outcome.DurationMs / int64(outcome.Total)

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "[Summary] Suite Execution Summary")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "  Total Iterations: %d\n", outcome.Total)
	fmt.Fprintf(w, "  Passed:           %d (%.1f%%)\n", passed, passRate)
	fmt.Fprintf(w, "  Failed:           %d (%.1f%%)\n", outcome.Failures, failRate)
	fmt.Fprintf(w, "  Total Tool Calls: %d\n", totalToolCalls)
	fmt.Fprintf(w, "  Total Tokens:     %d\n", totalTokens)
	fmt.Fprintf(w, "  Total Duration:   %dms (avg: %dms per iteration)\n", outcome.DurationMs, avgDuration)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	for _, res := range outcome.Results {
		if res.Passed {
			continue
		}
		fmt.Fprintf(w, "  FAIL %s (run %d): %s\n", res.Title, res.Run, failureMessage(res))
	}

	logger.Logger.Info("Suite execution summary",
		"total", outcome.Total,
		"passed", passed,
		"failed", outcome.Failures,
		"pass_rate", fmt.Sprintf("%.1f%%", passRate))
}
