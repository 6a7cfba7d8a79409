package server

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/model"
	"github.com/google/uuid"
)

type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// Connection is a fully resolved, executable server descriptor. For stdio
// servers the command is an absolute, verified-executable path and relative
// script arguments have been rewritten against the workspace root. For
// remote servers the URL is parsed and the declared headers are carried into
// the transport's request initialization.
type Connection struct {
	ID        string
	Name      string
	Transport TransportType

	Command string
	Args    []string
	Env     []string

	URL     *url.URL
	Headers map[string]string
}

// ConnectionResolutionError is caught per test case: it fails that test
// case's runs but never the suite.
type ConnectionResolutionError struct {
	Server string
	Reason string
}

func (e *ConnectionResolutionError) Error() string {
	return fmt.Sprintf("server %q: %s", e.Server, e.Reason)
}

// ResolveConnections maps each selected server name to a concrete
// connection descriptor. An empty selection resolves every configured
// server.
func ResolveConnections(env *model.EnvironmentFile, selected []string, workspaceRoot string) ([]Connection, error) {
	names := selected
	if len(names) == 0 {
		names = make([]string, 0, len(env.Servers))
		for name := range env.Servers {
			names = append(names, name)
		}
	}

	conns := make([]Connection, 0, len(names))
	for _, name := range names {
		cfg, ok := env.Servers[name]
		if !ok {
			return nil, &ConnectionResolutionError{Server: name, Reason: "no server config found"}
		}

		conn, err := resolveConnection(name, cfg, workspaceRoot)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	return conns, nil
}

func resolveConnection(name string, cfg model.ServerConfig, workspaceRoot string) (Connection, error) {
	conn := Connection{
		ID:   connectionID(name),
		Name: name,
	}

	if cfg.IsStdio() {
		command, err := resolveCommand(cfg.Command)
		if err != nil {
			return Connection{}, &ConnectionResolutionError{Server: name, Reason: err.Error()}
		}

		args := make([]string, len(cfg.Args))
		for i, arg := range cfg.Args {
			args[i] = absolutizeScriptArg(arg, workspaceRoot)
		}

		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}

		conn.Transport = TransportStdio
		conn.Command = command
		conn.Args = args
		conn.Env = env

		logger.Logger.Debug("Resolved stdio server",
			"server", name,
			"command", command,
			"args", args)
		return conn, nil
	}

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return Connection{}, &ConnectionResolutionError{Server: name, Reason: fmt.Sprintf("invalid url: %v", err)}
	}

	conn.Transport = TransportHTTP
	conn.URL = parsed
	conn.Headers = cfg.Headers

	logger.Logger.Debug("Resolved remote server",
		"server", name,
		"url", parsed.String(),
		"headers", len(cfg.Headers))
	return conn, nil
}

// resolveCommand accepts an absolute path only after verifying it exists and
// is executable; anything else goes through a PATH lookup.
func resolveCommand(command string) (string, error) {
	if filepath.IsAbs(command) {
		info, err := os.Stat(command)
		if err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return command, nil
		}
		// An absolute path that isn't executable may still name a binary on
		// PATH (e.g. a stale install prefix); fall through to the lookup.
	}

	resolved, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("command not found: %s", command)
	}
	return resolved, nil
}

// absolutizeScriptArg rewrites relative script references (./x, ../x)
// against the workspace root. Everything else passes through unchanged.
func absolutizeScriptArg(arg, workspaceRoot string) string {
	if !strings.HasPrefix(arg, "./") && !strings.HasPrefix(arg, "../") {
		return arg
	}
	if workspaceRoot == "" {
		workspaceRoot, _ = os.Getwd()
	}
	return filepath.Join(workspaceRoot, arg)
}

// connectionID builds a collision-free identifier from the server name, the
// current time, and a random suffix.
func connectionID(name string) string {
	return fmt.Sprintf("%s-%d-%s", name, time.Now().UnixNano(), uuid.NewString()[:8])
}
