package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/MCPJam/inspector-sub001/model"
)

// JUnit report shapes. Only the subset CI systems actually consume:
// testsuite counts, per-testcase time, failure message, system-out evidence.

type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Time      string          `xml:"time,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Content string `xml:",chardata"`
}

const suiteName = "agent-evals"

// WriteJUnitXML renders the suite outcome as a JUnit XML document. One
// testcase element per iteration; repetitions of the same test carry a run
// suffix so CI views keep them apart.
func WriteJUnitXML(w io.Writer, outcome model.SuiteOutcome) error {
	suite := BuildJUnitSuite(outcome)

	encoded, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JUnit report: %w", err)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write JUnit report: %w", err)
	}
	if _, err := w.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("failed to write JUnit report: %w", err)
	}
	return nil
}

func BuildJUnitSuite(outcome model.SuiteOutcome) JUnitTestSuite {
	runsPerTitle := make(map[string]int)
	for _, res := range outcome.Results {
		if res.Run > runsPerTitle[res.Title] {
			runsPerTitle[res.Title] = res.Run
		}
	}

	suite := JUnitTestSuite{
		Name:      suiteName,
		Tests:     outcome.Total,
		Failures:  outcome.Failures,
		Time:      seconds(outcome.DurationMs),
		TestCases: make([]JUnitTestCase, 0, len(outcome.Results)),
	}

	for _, res := range outcome.Results {
		name := res.Title
		if runsPerTitle[res.Title] > 1 {
			name = fmt.Sprintf("%s (run %d/%d)", res.Title, res.Run, runsPerTitle[res.Title])
		}

		tc := JUnitTestCase{
			Name:      name,
			Time:      seconds(res.DurationMs),
			SystemOut: evidenceSummary(res.Evaluation),
		}
		if !res.Passed {
			tc.Failure = &JUnitFailure{
				Message: failureMessage(res),
				Content: failureDetail(res),
			}
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	return suite
}

func failureMessage(res model.TestRunResult) string {
	if res.Error != "" {
		return res.Error
	}
	return "tool call expectations not met"
}

func failureDetail(res model.TestRunResult) string {
	parts := make([]string, 0, 3)
	if len(res.Evaluation.MissingTools) > 0 {
		parts = append(parts, "missing tools: "+strings.Join(res.Evaluation.MissingTools, ", "))
	}
	if len(res.Evaluation.UnexpectedTools) > 0 {
		parts = append(parts, "unexpected tools: "+strings.Join(res.Evaluation.UnexpectedTools, ", "))
	}
	if res.Error != "" {
		parts = append(parts, "error: "+res.Error)
	}
	return strings.Join(parts, "\n")
}

func evidenceSummary(eval model.EvaluationResult) string {
	return fmt.Sprintf("called: %s | missing: %s | unexpected: %s",
		nameList(eval.CalledTools),
		nameList(eval.MissingTools),
		nameList(eval.UnexpectedTools))
}

func nameList(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func seconds(ms int64) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000.0)
}
