package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/server"
	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestBackendStep(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	var received wireRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, backendStepPath, r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&received))

		resp := wireResponse{Turns: []wireTurn{
			{
				Role: "assistant",
				Text: "Looking that up.",
				ToolCalls: []wireToolCall{
					{ID: "call-9", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
				},
			},
		}}
		w.Header().Set("Content-Type", "application/json")
		body, _ := sonic.Marshal(resp)
		w.Write(body)
	}))
	defer ts.Close()

	client := NewBackendClient(ts.URL, nil)

	turns, err := client.Step(context.Background(), StepRequest{
		Model:   "remote-model",
		Tools:   testTools(),
		History: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "Weather in Oslo?")},
	})
	require.NoError(t, err)

	assert.Equal(t, "remote-model", received.Model)
	require.Len(t, received.Tools, 2)
	assert.Equal(t, "get_weather", received.Tools[0].Name)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "user", received.Messages[0].Role)

	require.Len(t, turns, 1)
	assert.Equal(t, llms.ChatMessageTypeAI, turns[0].Role)
	require.Len(t, turns[0].Parts, 2)
	call, ok := turns[0].Parts[1].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "call-9", call.ID)
	assert.Equal(t, "get_weather", call.FunctionCall.Name)
}

func TestBackendStepNon200(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewBackendClient(ts.URL, nil)
	_, err := client.Step(context.Background(), StepRequest{Model: "remote-model"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

// The proxied path can answer tool calls server-side. Those calls never run
// locally but still count as invoked evidence, and a turn whose calls are
// all already answered terminates the loop instead of spinning.
func TestRunIterationProxiedBackendResolvedCalls(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		resp := wireResponse{Turns: []wireTurn{
			{
				Role: "assistant",
				ToolCalls: []wireToolCall{
					{ID: "call-1", Name: "get_weather", Arguments: "{}"},
				},
			},
			{
				Role: "tool",
				ToolResults: []wireToolResult{
					{CallID: "call-1", Name: "get_weather", Content: "sunny"},
				},
			},
		}}
		body, _ := sonic.Marshal(resp)
		w.Write(body)
	}))
	defer ts.Close()

	srv := &server.MCPServer{Name: "weather", Tools: testTools()}
	r := NewRunner("proxied test", "remote-model", []*server.MCPServer{srv}, nil)
	r.Backend = NewBackendClient(ts.URL, nil)

	outcome := r.RunIteration(context.Background(), IterationConfig{
		Prompt:   "Weather?",
		MaxSteps: 5,
	})

	require.NoError(t, outcome.Err)
	assert.Equal(t, 1, requests)
	assert.Equal(t, []string{"get_weather"}, outcome.CalledTools)
	require.Len(t, outcome.Steps, 1)
	require.Len(t, outcome.Steps[0].ToolResults, 1)
	assert.Equal(t, "sunny", outcome.Steps[0].ToolResults[0].Content)
}

// A proxied turn with an unanswered call dispatches it against the local
// server catalog on the next pass.
func TestRunIterationProxiedLocalDispatch(t *testing.T) {
	logger.SetupLogger(discardWriter{}, true)

	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var resp wireResponse
		if requests == 1 {
			resp = wireResponse{Turns: []wireTurn{
				{
					Role: "assistant",
					ToolCalls: []wireToolCall{
						{ID: "call-1", Name: "get_forecast", Arguments: "{}"},
					},
				},
			}}
		} else {
			resp = wireResponse{Turns: []wireTurn{
				{Role: "assistant", Text: "Rain tomorrow."},
			}}
		}
		body, _ := sonic.Marshal(resp)
		w.Write(body)
	}))
	defer ts.Close()

	client := new(MockMCPClient)
	client.On("CallTool", mock.Anything, mock.MatchedBy(func(req mcp.CallToolRequest) bool {
		return req.Params.Name == "get_forecast"
	})).Return(&mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "rain"}},
	}, nil).Once()

	srv := &server.MCPServer{Name: "weather", Client: client, Tools: testTools()}
	r := NewRunner("proxied dispatch", "remote-model", []*server.MCPServer{srv}, nil)
	r.Backend = NewBackendClient(ts.URL, nil)

	outcome := r.RunIteration(context.Background(), IterationConfig{
		Prompt:   "Forecast?",
		MaxSteps: 5,
	})

	require.NoError(t, outcome.Err)
	assert.Equal(t, 2, requests)
	assert.Equal(t, []string{"get_forecast"}, outcome.CalledTools)
	client.AssertExpectations(t)
}
