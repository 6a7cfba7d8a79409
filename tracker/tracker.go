package tracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
	"github.com/bytedance/sonic"
)

const (
	DefaultBaseURL = "https://api.mcpjam.com"
	requestTimeout = 15 * time.Second
)

// SuiteMeta describes a suite record before any test has run.
type SuiteMeta struct {
	Name      string    `json:"name"`
	Total     int       `json:"totalTests"`
	StartedAt time.Time `json:"startedAt"`
}

// CaseMeta describes one test case within a persisted suite.
type CaseMeta struct {
	Title             string   `json:"title"`
	Provider          string   `json:"provider"`
	ModelID           string   `json:"modelId"`
	ExpectedToolCalls []string `json:"expectedToolCalls"`
	Runs              int      `json:"runs"`
}

// IterationUpdate carries the result of one finished iteration.
type IterationUpdate struct {
	Passed     bool                    `json:"passed"`
	DurationMs int64                   `json:"durationMs"`
	ToolCalls  []string                `json:"toolCalls"`
	Usage      model.Usage             `json:"usage"`
	Error      string                  `json:"error,omitempty"`
	Transcript []model.AgentStepRecord `json:"transcript,omitempty"`
}

// Tracker persists suite progress to a remote service. Persistence is
// strictly best-effort: every method swallows transport and decode failures,
// and a failed create yields an absent id that downgrades the dependent
// calls to no-ops.
type Tracker interface {
	CreateSuite(ctx context.Context, meta SuiteMeta) string
	CreateTestCase(ctx context.Context, suiteID string, meta CaseMeta) string
	CreateIteration(ctx context.Context, testCaseID string, number int, startedAt time.Time) string
	UpdateIterationResult(ctx context.Context, iterationID string, upd IterationUpdate)
}

// New returns the HTTP tracker when persistence is enabled and configured,
// otherwise the no-op variant.
func New(cfg model.TrackerConfig) Tracker {
	if !cfg.Enabled || cfg.APIKey == "" {
		return Noop{}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		hc:      &http.Client{Timeout: requestTimeout},
	}
}

// Noop is the tracker used when persistence is disabled.
type Noop struct{}

func (Noop) CreateSuite(context.Context, SuiteMeta) string           { return "" }
func (Noop) CreateTestCase(context.Context, string, CaseMeta) string { return "" }
func (Noop) CreateIteration(context.Context, string, int, time.Time) string {
	return ""
}
func (Noop) UpdateIterationResult(context.Context, string, IterationUpdate) {}

// Client is the HTTP tracker.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

type createResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateSuite(ctx context.Context, meta SuiteMeta) string {
	var resp createResponse
	if err := c.post(ctx, "/v1/evals/suites", meta, &resp); err != nil {
		logger.Logger.Warn("Failed to create suite record", "error", err)
		return ""
	}
	return resp.ID
}

func (c *Client) CreateTestCase(ctx context.Context, suiteID string, meta CaseMeta) string {
	if suiteID == "" {
		return ""
	}
	var resp createResponse
	path := fmt.Sprintf("/v1/evals/suites/%s/tests", suiteID)
	if err := c.post(ctx, path, meta, &resp); err != nil {
		logger.Logger.Warn("Failed to create test case record", "test", meta.Title, "error", err)
		return ""
	}
	return resp.ID
}

func (c *Client) CreateIteration(ctx context.Context, testCaseID string, number int, startedAt time.Time) string {
	if testCaseID == "" {
		return ""
	}
	payload := map[string]any{
		"number":    number,
		"startedAt": startedAt,
	}
	var resp createResponse
	path := fmt.Sprintf("/v1/evals/tests/%s/iterations", testCaseID)
	if err := c.post(ctx, path, payload, &resp); err != nil {
		logger.Logger.Warn("Failed to create iteration record", "iteration", number, "error", err)
		return ""
	}
	return resp.ID
}

func (c *Client) UpdateIterationResult(ctx context.Context, iterationID string, upd IterationUpdate) {
	if iterationID == "" {
		return
	}
	path := fmt.Sprintf("/v1/evals/iterations/%s/result", iterationID)
	if err := c.post(ctx, path, upd, nil); err != nil {
		logger.Logger.Warn("Failed to persist iteration result", "error", err)
	}
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize tracker payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build tracker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read tracker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := sonic.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode tracker response: %w", err)
		}
	}
	return nil
}
