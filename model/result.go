package model

import "time"

// ============================================================================
// PER-ITERATION EVIDENCE
// ============================================================================

// StepToolCall is one tool invocation the model requested during a step.
type StepToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StepToolResult is the outcome of dispatching one tool call.
type StepToolResult struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// AgentStepRecord captures the evidence of one step of the loop: the
// assistant text accumulated in that turn, the tool calls it issued, and
// the tool results appended before the next model call. Scoped to a single
// iteration and discarded after evaluation.
type AgentStepRecord struct {
	Index       int              `json:"index"`
	Text        string           `json:"text,omitempty"`
	ToolCalls   []StepToolCall   `json:"toolCalls,omitempty"`
	ToolResults []StepToolResult `json:"toolResults,omitempty"`
}

// Usage accumulates token counts across steps. Unknown or non-positive
// increments are treated as no-ops so a provider that reports nothing never
// poisons the totals.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u *Usage) Add(prompt, completion int) {
	if prompt > 0 {
		u.PromptTokens += prompt
		u.TotalTokens += prompt
	}
	if completion > 0 {
		u.CompletionTokens += completion
		u.TotalTokens += completion
	}
}

// ============================================================================
// RESULTS
// ============================================================================

type EvaluationResult struct {
	Passed            bool     `json:"passed"`
	ExpectedToolCalls []string `json:"expectedToolCalls"`
	CalledTools       []string `json:"calledTools"`
	MissingTools      []string `json:"missingTools"`
	UnexpectedTools   []string `json:"unexpectedTools"`
}

// TestRunResult is the outcome of one iteration of one test case. Appended
// to the suite outcome exactly once and never mutated afterwards.
type TestRunResult struct {
	Title      string           `json:"title"`
	Run        int              `json:"run"`
	Passed     bool             `json:"passed"`
	DurationMs int64            `json:"durationMs"`
	Evaluation EvaluationResult `json:"evaluation"`
	Usage      Usage            `json:"usage"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
}

type SuiteOutcome struct {
	Results    []TestRunResult `json:"results"`
	Total      int             `json:"total"`
	Failures   int             `json:"failures"`
	Passed     bool            `json:"passed"`
	DurationMs int64           `json:"durationMs"`
}
