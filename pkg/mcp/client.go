package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultTimeout = 5 * time.Minute
	defaultRetries = 1
	defaultBackoff = 200 * time.Millisecond
	clientName     = "francisco-client"
)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout. Agent invocations are slow, so
// the default is generous.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and backoff for transport failures.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// Client calls tools on an MCP server, typically a remote Francisco agent.
type Client struct {
	mcpClient  client.MCPClient
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

// NewClient wraps an initialized MCP client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient:  c,
		timeout:    defaultTimeout,
		maxRetries: defaultRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewClientWithStreamableHTTP connects to a streamable HTTP MCP endpoint.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewClient(c, opts...), nil
}

// NewClientWithStdio starts command and speaks MCP over its stdio.
func NewClientWithStdio(ctx context.Context, command string, env, args []string, opts ...ClientOption) (*Client, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, err
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewClient(c, opts...), nil
}

func initialize(ctx context.Context, c client.MCPClient) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "0.1.0"}
	_, err := c.Initialize(ctx, req)
	return err
}

// ListTools retrieves the tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	err := c.retry(ctx, func(ctx context.Context) error {
		res, err := c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return err
		}
		tools = res.Tools
		return nil
	})
	return tools, err
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	err := c.retry(ctx, func(ctx context.Context) error {
		res, err := c.mcpClient.CallTool(ctx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// CallText executes a tool and returns its text content. A tool error
// result is returned as an error.
func (c *Client) CallText(ctx context.Context, name string, args map[string]any) (string, error) {
	res, err := c.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	return resultText(res)
}

// Invoke calls the remote agent's invoke tool.
func (c *Client) Invoke(ctx context.Context, input string, extra map[string]any) (string, error) {
	args := map[string]any{"input": input}
	if len(extra) > 0 {
		args["context"] = extra
	}
	return c.CallText(ctx, ToolInvoke, args)
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) retry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	attempts := c.maxRetries + 1
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := c.withTimeout(ctx)
		err := fn(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := c.sleepBackoff(ctx, i); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resultText(result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", errors.New("mcp tool result is nil")
	}
	text := textContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcp tool returned error: %s", text)
	}
	return text, nil
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
