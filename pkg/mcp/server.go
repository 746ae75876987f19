// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the Francisco agent as MCP tools and provides a small
// client for calling MCP servers.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/francisco-agent/francisco/pkg/agent"
)

const (
	// ServerName is the MCP server name advertised to clients.
	ServerName = "Francisco Agent"

	// ToolInvoke and ToolStatus are the registered tool names.
	ToolInvoke = "invoke"
	ToolStatus = "status"

	// Transports accepted by Serve.
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"

	// DefaultAddr is the streamable HTTP listen address.
	DefaultAddr = ":8080"

	defaultCredentialEnv = "OPENAI_API_KEY"
)

// Server wraps the mcp-go server with the Francisco tools.
type Server struct {
	mcpServer     *server.MCPServer
	lazy          *agent.Lazy
	credentialEnv string
	apiKey        string
	lookup        func(string) (string, bool)
	logger        *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCredentialEnv sets the variable checked before invoking the agent.
func WithCredentialEnv(name string) ServerOption {
	return func(s *Server) {
		if name != "" {
			s.credentialEnv = name
		}
	}
}

// WithServerAPIKey satisfies the credential check without the environment.
func WithServerAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = strings.TrimSpace(key) }
}

// WithServerEnv replaces os.LookupEnv for the credential check.
func WithServerEnv(lookup func(string) (string, bool)) ServerOption {
	return func(s *Server) {
		if lookup != nil {
			s.lookup = lookup
		}
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the MCP server. lazy supplies the shared agent; it is
// built on the first tool call that needs it.
func NewServer(version string, lazy *agent.Lazy, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(ServerName, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		lazy:          lazy,
		credentialEnv: defaultCredentialEnv,
		lookup:        os.LookupEnv,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "mcp"))

	s.mcpServer.AddTool(mcp.NewTool(ToolInvoke,
		mcp.WithDescription("Send a request to the Francisco agent and return its response."),
		mcp.WithString("input", mcp.Required(), mcp.Description("The request for the agent")),
		mcp.WithObject("context", mcp.Description("Optional additional context")),
	), s.handleInvoke)

	s.mcpServer.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Show the Francisco agent configuration."),
	), s.handleStatus)

	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

func (s *Server) handleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.hasCredential() {
		s.logger.WarnContext(ctx, "mcp.invoke.no_credential", slog.String("env", s.credentialEnv))
		return mcp.NewToolResultText(s.credentialEnv + " not found in environment!"), nil
	}
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var extra map[string]any
	if raw, ok := req.GetArguments()["context"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("context must be an object"), nil
		}
		extra = normalizeNumbers(m).(map[string]any)
	}

	a, err := s.agent(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to initialize agent: %v", err)), nil
	}
	return mcp.NewToolResultText(a.Invoke(ctx, input, extra)), nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := s.agent(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to initialize agent: %v", err)), nil
	}
	return mcp.NewToolResultText(a.Status()), nil
}

func (s *Server) agent(ctx context.Context) (*agent.Agent, error) {
	if s.lazy == nil {
		return nil, errors.New("no agent configured")
	}
	a, err := s.lazy.Get()
	if err != nil {
		s.logger.ErrorContext(ctx, "mcp.agent.init_failed", slog.String("error", err.Error()))
	}
	return a, err
}

func (s *Server) hasCredential() bool {
	if s.apiKey != "" {
		return true
	}
	v, ok := s.lookup(s.credentialEnv)
	return ok && strings.TrimSpace(v) != ""
}

// Serve runs the server on the named transport until ctx is done or the
// transport fails.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	switch transport {
	case "", TransportStdio:
		return s.ServeStdio(ctx, os.Stdin, os.Stdout)
	case TransportStreamableHTTP:
		return s.ServeHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport %q (use %s or %s)", transport, TransportStdio, TransportStreamableHTTP)
	}
}

// ServeStdio serves MCP over the given streams.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.New(io.Discard, "", 0))
	s.logger.InfoContext(ctx, "mcp.serve", slog.String("transport", TransportStdio))
	err := stdio.Listen(ctx, in, out)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeHTTP serves MCP over streamable HTTP on addr.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "mcp.serve",
			slog.String("transport", TransportStreamableHTTP),
			slog.String("addr", addr),
		)
		errCh <- httpServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	}
}

// normalizeNumbers turns integral JSON numbers back into integers so they
// format as 3 rather than 3.0.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeNumbers(item)
		}
		return out
	default:
		return v
	}
}
