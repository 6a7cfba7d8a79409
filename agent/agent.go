package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
	"github.com/MCPJam/inspector-sub001/server"
	"github.com/life4/genesis/slices"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/llms"
)

const (
	ResultPreviewLength = 2000
)

// continuation is the decision taken after each model turn. It replaces
// finish-reason string matching with an explicit three-way branch computed
// from: did the turn request tool use, is anything still unresolved, and
// are steps left in the budget.
type continuation int

const (
	decisionContinue continuation = iota
	decisionStop
	decisionBudgetExhausted
)

func decideContinuation(toolUseRequested bool, unresolved int, stepsUsed, maxSteps int) continuation {
	if !toolUseRequested {
		return decisionStop
	}
	if unresolved == 0 {
		// Tool use was requested but every call already has a result; a
		// silently-dropped call must not spin the loop forever.
		return decisionStop
	}
	if stepsUsed >= maxSteps {
		return decisionBudgetExhausted
	}
	return decisionContinue
}

// Runner drives the multi-step model/tool conversation for one test case.
// The tool catalog and server connections are shared read-only across that
// test case's repetitions; everything else is per-iteration state.
type Runner struct {
	Title   string
	Servers []*server.MCPServer

	// Exactly one of the two is set: LLM for the direct in-process path,
	// Backend for the proxied path.
	LLM     llms.Model
	Backend *BackendClient

	ModelID string

	toolToServer map[string]*server.MCPServer
	mcpTools     []mcp.Tool
	llmTools     []llms.Tool
}

// NewRunner builds the tool catalog from the connected servers, optionally
// narrowed to allowedTools. On a tool-name collision the first server that
// registered the name wins.
func NewRunner(title, modelID string, servers []*server.MCPServer, allowedTools []string) *Runner {
	r := &Runner{
		Title:        title,
		ModelID:      modelID,
		Servers:      servers,
		toolToServer: make(map[string]*server.MCPServer),
	}

	for _, srv := range servers {
		tools := slices.Filter(srv.Tools, func(t mcp.Tool) bool {
			return len(allowedTools) == 0 || slices.Contains(allowedTools, t.Name)
		})

		for _, tool := range tools {
			if existing, exists := r.toolToServer[tool.Name]; exists {
				logger.Logger.Warn("Tool name collision detected",
					"tool", tool.Name,
					"existing_server", existing.Name,
					"new_server", srv.Name)
				continue
			}
			r.toolToServer[tool.Name] = srv
			r.mcpTools = append(r.mcpTools, tool)
		}
	}

	r.llmTools = toLLMTools(r.mcpTools)

	logger.Logger.Debug("Runner tool catalog built",
		"test", title,
		"servers", len(servers),
		"tools", len(r.mcpTools))
	return r
}

func toLLMTools(tools []mcp.Tool) []llms.Tool {
	result := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		params := map[string]any{
			"type":       t.InputSchema.Type,
			"properties": t.InputSchema.Properties,
		}
		if len(t.InputSchema.Required) > 0 {
			params["required"] = t.InputSchema.Required
		}
		result = append(result, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

// IterationConfig is the per-iteration knob set from the test case's
// advanced config.
type IterationConfig struct {
	Prompt      string
	System      string
	Temperature *float64
	ToolChoice  string
	TimeoutMs   int
	MaxSteps    int
}

// IterationOutcome is the evidence one iteration produced: the per-step
// records, the cumulative called-tool names (duplicates preserved), token
// usage where available, and the terminal error if the loop ended in
// TimedOut or Errored.
type IterationOutcome struct {
	Steps       []model.AgentStepRecord
	CalledTools []string
	Usage       model.Usage
	TimedOut    bool
	Err         error
}

// RunIteration executes one full pass of the test prompt through the step
// loop. The loop is strictly sequential: a step's tool results are fully
// appended to history before the next model call.
func (r *Runner) RunIteration(ctx context.Context, cfg IterationConfig) IterationOutcome {
	outcome := IterationOutcome{
		Steps:       make([]model.AgentStepRecord, 0),
		CalledTools: make([]string, 0),
	}

	iterCtx := ctx
	cancel := func() {}
	if cfg.TimeoutMs > 0 {
		iterCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	}
	defer cancel()

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = model.DefaultMaxSteps
	}

	history := make([]llms.MessageContent, 0, 2)
	if cfg.System != "" {
		history = append(history, llms.TextParts(llms.ChatMessageTypeSystem, cfg.System))
	}
	history = append(history, llms.TextParts(llms.ChatMessageTypeHuman, cfg.Prompt))

	// Tool calls whose result is already somewhere in history.
	resolved := make(map[string]bool)
	pending := make([]llms.ToolCall, 0)

	for step := 1; ; step++ {
		if err := iterCtx.Err(); err != nil {
			r.recordFailure(&outcome, iterCtx, err, step)
			return outcome
		}

		record := model.AgentStepRecord{Index: step}

		var turnCalls []llms.ToolCall
		var err error
		if r.Backend != nil {
			turnCalls, err = r.proxiedTurn(iterCtx, cfg, &history, &record, resolved)
		} else {
			turnCalls, err = r.directTurn(iterCtx, cfg, &history, &record, &outcome.Usage)
		}
		if err != nil {
			outcome.Steps = append(outcome.Steps, record)
			r.recordFailure(&outcome, iterCtx, err, step)
			return outcome
		}

		for _, call := range turnCalls {
			if resolved[callKey(call)] {
				// The backend already answered this call; it still counts
				// as an invoked tool.
				outcome.CalledTools = append(outcome.CalledTools, call.FunctionCall.Name)
				continue
			}
			pending = append(pending, call)
		}

		decision := decideContinuation(len(turnCalls) > 0, len(pending), step, maxSteps)
		if decision == decisionStop {
			outcome.Steps = append(outcome.Steps, record)
			logger.Logger.Debug("Iteration finished", "test", r.Title, "steps", step)
			return outcome
		}

		for _, call := range pending {
			result, toolErr := r.executeToolCall(iterCtx, call, &history, &record)
			outcome.CalledTools = append(outcome.CalledTools, call.FunctionCall.Name)
			resolved[callKey(call)] = true
			if toolErr != nil {
				outcome.Steps = append(outcome.Steps, record)
				r.recordFailure(&outcome, iterCtx, toolErr, step)
				return outcome
			}
			logger.Logger.Debug("Tool executed",
				"test", r.Title,
				"step", step,
				"tool", call.FunctionCall.Name,
				"result_preview", truncateString(result, ResultPreviewLength))
		}
		pending = pending[:0]

		outcome.Steps = append(outcome.Steps, record)

		if decision == decisionBudgetExhausted {
			// Running out of steps is a normal termination, not an error.
			logger.Logger.Debug("Step budget exhausted", "test", r.Title, "max_steps", maxSteps)
			return outcome
		}
	}
}

// directTurn invokes the model in-process with the full history and the
// tool catalog. Streamed text is concatenated into the turn; token usage is
// summed when the provider reports it.
func (r *Runner) directTurn(
	ctx context.Context,
	cfg IterationConfig,
	history *[]llms.MessageContent,
	record *model.AgentStepRecord,
	usage *model.Usage,
) ([]llms.ToolCall, error) {
	var streamed strings.Builder

	opts := []llms.CallOption{
		llms.WithTools(r.llmTools),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			streamed.Write(chunk)
			return nil
		}),
	}
	if cfg.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*cfg.Temperature))
	}
	if cfg.ToolChoice != "" {
		opts = append(opts, llms.WithToolChoice(cfg.ToolChoice))
	}

	resp, err := r.LLM.GenerateContent(ctx, *history, opts...)
	if err != nil {
		return nil, fmt.Errorf("model invocation failed (step %d): %w", record.Index, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices (step %d)", record.Index)
	}

	choice := resp.Choices[0]

	text := choice.Content
	if text == "" {
		text = streamed.String()
	}
	record.Text = text

	prompt, completion := usageFromGenerationInfo(choice.GenerationInfo)
	usage.Add(prompt, completion)

	parts := make([]llms.ContentPart, 0, 1+len(choice.ToolCalls))
	if strings.TrimSpace(text) != "" {
		parts = append(parts, llms.TextContent{Text: text})
	}
	for _, call := range choice.ToolCalls {
		parts = append(parts, call)
		record.ToolCalls = append(record.ToolCalls, model.StepToolCall{
			ID:        call.ID,
			Name:      call.FunctionCall.Name,
			Arguments: call.FunctionCall.Arguments,
		})
	}
	if len(parts) > 0 {
		*history = append(*history, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: parts,
		})
	}

	return choice.ToolCalls, nil
}

// proxiedTurn delegates model invocation and tool choice to the backend in
// one request carrying the serialized tool definitions and the full message
// history. The returned turns are appended to history; tool calls the
// backend already answered are marked resolved so only the remainder runs
// locally. Usage accounting is unavailable on this path.
func (r *Runner) proxiedTurn(
	ctx context.Context,
	cfg IterationConfig,
	history *[]llms.MessageContent,
	record *model.AgentStepRecord,
	resolved map[string]bool,
) ([]llms.ToolCall, error) {
	turns, err := r.Backend.Step(ctx, StepRequest{
		Model:       r.ModelID,
		System:      cfg.System,
		Temperature: cfg.Temperature,
		ToolChoice:  cfg.ToolChoice,
		Tools:       r.mcpTools,
		History:     *history,
	})
	if err != nil {
		return nil, fmt.Errorf("backend invocation failed (step %d): %w", record.Index, err)
	}

	var turnCalls []llms.ToolCall
	var text strings.Builder
	for _, turn := range turns {
		*history = append(*history, turn)
		for _, part := range turn.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				if turn.Role == llms.ChatMessageTypeAI {
					text.WriteString(p.Text)
				}
			case llms.ToolCall:
				turnCalls = append(turnCalls, p)
				record.ToolCalls = append(record.ToolCalls, model.StepToolCall{
					ID:        p.ID,
					Name:      p.FunctionCall.Name,
					Arguments: p.FunctionCall.Arguments,
				})
			case llms.ToolCallResponse:
				resolved[toolCallKey(p.ToolCallID, p.Name)] = true
				record.ToolResults = append(record.ToolResults, model.StepToolResult{
					CallID:  p.ToolCallID,
					Name:    p.Name,
					Content: p.Content,
				})
			}
		}
	}
	record.Text = text.String()

	return turnCalls, nil
}

// executeToolCall dispatches one pending call against its server, appends
// the result turn to history, and records the evidence.
func (r *Runner) executeToolCall(
	ctx context.Context,
	call llms.ToolCall,
	history *[]llms.MessageContent,
	record *model.AgentStepRecord,
) (string, error) {
	name := call.FunctionCall.Name

	srv, ok := r.toolToServer[name]
	if !ok {
		return "", fmt.Errorf("tool '%s' not found in any connected server", name)
	}

	result, err := srv.CallTool(ctx, name, call.FunctionCall.Arguments)
	if err != nil {
		return "", fmt.Errorf("tool execution failed (tool %s): %w", name, err)
	}

	*history = append(*history, llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{
			llms.ToolCallResponse{
				ToolCallID: call.ID,
				Name:       name,
				Content:    result,
			},
		},
	})
	record.ToolResults = append(record.ToolResults, model.StepToolResult{
		CallID:  call.ID,
		Name:    name,
		Content: result,
	})

	return result, nil
}

func (r *Runner) recordFailure(outcome *IterationOutcome, ctx context.Context, err error, step int) {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		outcome.Err = fmt.Errorf("iteration timed out at step %d: %w", step, context.DeadlineExceeded)
		logger.Logger.Warn("Iteration timed out", "test", r.Title, "step", step)
		return
	}
	outcome.Err = err
	logger.Logger.Error("Iteration failed", "test", r.Title, "step", step, "error", err)
}

func callKey(call llms.ToolCall) string {
	return toolCallKey(call.ID, call.FunctionCall.Name)
}

// toolCallKey identifies a tool call across turns. Providers that omit call
// ids fall back to the tool name.
func toolCallKey(id, name string) string {
	if id != "" {
		return id
	}
	return "name:" + name
}

func usageFromGenerationInfo(info map[string]any) (prompt, completion int) {
	if info == nil {
		return 0, 0
	}
	prompt = intFromInfo(info, "PromptTokens", "InputTokens")
	completion = intFromInfo(info, "CompletionTokens", "OutputTokens")
	return prompt, completion
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
