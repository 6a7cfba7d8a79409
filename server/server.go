package server

import (
	"context"
	"fmt"
	"time"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/bytedance/sonic"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	DefaultInitTimeout = 30 * time.Second
	MCPClientName      = "mcpjam-evals"
	MCPClientVersion   = "1.0.0"
)

// MCPServer is one live tool-backend connection. Created once per test case,
// shared read-only across that test case's repetitions, and closed after all
// repetitions finish.
type MCPServer struct {
	Name   string
	ID     string
	Client mcpclient.MCPClient
	Tools  []mcp.Tool
}

// Connect creates the MCP client for a resolved connection, runs the
// initialize handshake, and lists the server's tools.
func Connect(ctx context.Context, conn Connection) (*MCPServer, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	logger.Logger.Info("Connecting to MCP server",
		"server", conn.Name,
		"transport", conn.Transport)

	s := &MCPServer{
		Name: conn.Name,
		ID:   conn.ID,
	}

	cli, err := createClient(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for server %s: %w", conn.Name, err)
	}
	s.Client = cli

	initCtx, cancel := context.WithTimeout(ctx, DefaultInitTimeout)
	defer cancel()

	if err := s.initialize(initCtx); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize MCP client for server %s: %w", conn.Name, err)
	}

	toolsRes, err := cli.ListTools(initCtx, mcp.ListToolsRequest{})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to list tools for server %s: %w", conn.Name, err)
	}
	if toolsRes != nil {
		s.Tools = toolsRes.Tools
	}

	logger.Logger.Info("MCP server connected",
		"server", conn.Name,
		"tools", len(s.Tools))
	return s, nil
}

func createClient(ctx context.Context, conn Connection) (mcpclient.MCPClient, error) {
	switch conn.Transport {
	case TransportStdio:
		stdioClient, err := mcpclient.NewStdioMCPClient(conn.Command, conn.Env, conn.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdio client: %w", err)
		}
		return stdioClient, nil

	case TransportHTTP:
		var options []transport.StreamableHTTPCOption
		if len(conn.Headers) > 0 {
			options = append(options, transport.WithHTTPHeaders(conn.Headers))
		}
		httpClient, err := mcpclient.NewStreamableHttpClient(conn.URL.String(), options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
		}
		if err := httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start streamable HTTP client: %w", err)
		}
		return httpClient, nil

	default:
		return nil, fmt.Errorf("unsupported transport type %q for server %s", conn.Transport, conn.Name)
	}
}

func (s *MCPServer) initialize(ctx context.Context) error {
	if s.Client == nil {
		return fmt.Errorf("client is nil, cannot initialize")
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    MCPClientName,
		Version: MCPClientVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	response, err := s.Client.Initialize(ctx, initRequest)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	if response == nil {
		return fmt.Errorf("initialize response is nil")
	}

	logger.Logger.Debug("Server initialization successful",
		"server", s.Name,
		"server_info_name", response.ServerInfo.Name,
		"protocol_version", response.ProtocolVersion)
	return nil
}

// CallTool executes a named tool and returns the marshaled result.
func (s *MCPServer) CallTool(ctx context.Context, toolName, argumentsJSON string) (string, error) {
	if s.Client == nil {
		return "", fmt.Errorf("server %s is not connected", s.Name)
	}

	var arguments any
	if argumentsJSON != "" && argumentsJSON != "{}" {
		if err := sonic.UnmarshalString(argumentsJSON, &arguments); err != nil {
			return "", fmt.Errorf("failed to parse arguments for tool '%s': %w", toolName, err)
		}
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	req := mcp.CallToolRequest{}
	req.Request.Method = "tools/call"
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	result, err := s.Client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to call MCP tool '%s' on server '%s': %w", toolName, s.Name, err)
	}

	marshaled, err := sonic.MarshalString(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal MCP tool result: %w", err)
	}
	return marshaled, nil
}

func (s *MCPServer) cleanup() {
	if s.Client == nil {
		return
	}
	if closer, ok := s.Client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Logger.Warn("Error closing client", "server", s.Name, "error", err)
		}
	}
}

func (s *MCPServer) Close() error {
	if s.Client == nil {
		return nil
	}

	logger.Logger.Debug("Closing MCP server", "server", s.Name)

	if closer, ok := s.Client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close server %s: %w", s.Name, err)
		}
	}
	s.Client = nil
	return nil
}

// IsHealthy probes the connection with a tool listing. Used for setup
// logging only; a failed probe does not abort the test case.
func (s *MCPServer) IsHealthy(ctx context.Context) bool {
	if s.Client == nil {
		return false
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.Client.ListTools(healthCtx, mcp.ListToolsRequest{}); err != nil {
		logger.Logger.Warn("Health check failed", "server", s.Name, "error", err)
		return false
	}
	return true
}
