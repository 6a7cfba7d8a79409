package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/llms"
)

const (
	backendStepPath       = "/v1/agent/step"
	defaultBackendTimeout = 120 * time.Second
)

// BackendClient talks to the remote endpoint that hosts model invocation
// and tool choice for models outside the first-party allow-list. One POST
// per step carries the serialized tool definitions and the full message
// history; the response is a list of new conversation turns.
type BackendClient struct {
	baseURL string
	hc      *http.Client
}

func NewBackendClient(baseURL string, hc *http.Client) *BackendClient {
	if hc == nil {
		hc = &http.Client{Timeout: defaultBackendTimeout}
	}
	return &BackendClient{baseURL: baseURL, hc: hc}
}

// StepRequest is the engine-side view of one proxied model invocation.
type StepRequest struct {
	Model       string
	System      string
	Temperature *float64
	ToolChoice  string
	Tools       []mcp.Tool
	History     []llms.MessageContent
}

type wireTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

type wireToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type wireToolResult struct {
	CallID  string `json:"callId,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type wireTurn struct {
	Role        string           `json:"role"`
	Text        string           `json:"text,omitempty"`
	ToolCalls   []wireToolCall   `json:"toolCalls,omitempty"`
	ToolResults []wireToolResult `json:"toolResults,omitempty"`
}

type wireRequest struct {
	Model       string     `json:"model"`
	System      string     `json:"system,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	ToolChoice  string     `json:"toolChoice,omitempty"`
	Tools       []wireTool `json:"tools"`
	Messages    []wireTurn `json:"messages"`
}

type wireResponse struct {
	Turns []wireTurn `json:"turns"`
}

// Step performs one proxied model invocation and converts the returned
// turns back into conversation messages.
func (c *BackendClient) Step(ctx context.Context, req StepRequest) ([]llms.MessageContent, error) {
	payload := wireRequest{
		Model:       req.Model,
		System:      req.System,
		Temperature: req.Temperature,
		ToolChoice:  req.ToolChoice,
		Tools:       toWireTools(req.Tools),
		Messages:    toWireTurns(req.History),
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize backend request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+backendStepPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}

	var decoded wireResponse
	if err := sonic.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}

	logger.Logger.Debug("Backend step completed",
		"model", req.Model,
		"turns", len(decoded.Turns))
	return fromWireTurns(decoded.Turns), nil
}

func toWireTools(tools []mcp.Tool) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func toWireTurns(history []llms.MessageContent) []wireTurn {
	out := make([]wireTurn, 0, len(history))
	for _, msg := range history {
		turn := wireTurn{Role: wireRole(msg.Role)}
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				turn.Text += p.Text
			case llms.ToolCall:
				turn.ToolCalls = append(turn.ToolCalls, wireToolCall{
					ID:        p.ID,
					Name:      p.FunctionCall.Name,
					Arguments: p.FunctionCall.Arguments,
				})
			case llms.ToolCallResponse:
				turn.ToolResults = append(turn.ToolResults, wireToolResult{
					CallID:  p.ToolCallID,
					Name:    p.Name,
					Content: p.Content,
				})
			}
		}
		out = append(out, turn)
	}
	return out
}

func fromWireTurns(turns []wireTurn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(turns))
	for _, turn := range turns {
		msg := llms.MessageContent{Role: messageRole(turn.Role)}
		if turn.Text != "" {
			msg.Parts = append(msg.Parts, llms.TextContent{Text: turn.Text})
		}
		for _, call := range turn.ToolCalls {
			msg.Parts = append(msg.Parts, llms.ToolCall{
				ID:   call.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		for _, res := range turn.ToolResults {
			msg.Parts = append(msg.Parts, llms.ToolCallResponse{
				ToolCallID: res.CallID,
				Name:       res.Name,
				Content:    res.Content,
			})
		}
		out = append(out, msg)
	}
	return out
}

func wireRole(role llms.ChatMessageType) string {
	switch role {
	case llms.ChatMessageTypeSystem:
		return "system"
	case llms.ChatMessageTypeHuman:
		return "user"
	case llms.ChatMessageTypeAI:
		return "assistant"
	case llms.ChatMessageTypeTool:
		return "tool"
	default:
		return string(role)
	}
}

func messageRole(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "user":
		return llms.ChatMessageTypeHuman
	case "assistant":
		return llms.ChatMessageTypeAI
	case "tool":
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageType(role)
	}
}
