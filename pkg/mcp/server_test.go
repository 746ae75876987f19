package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/francisco-agent/francisco/pkg/agent"
	"github.com/francisco-agent/francisco/pkg/agenttest"
	"github.com/francisco-agent/francisco/pkg/config"
)

const mcpStdioHelperEnv = "FRANCISCO_MCP_STDIO_HELPER"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoLazy(builds *atomic.Int32) *agent.Lazy {
	return agent.NewLazy(func() (*agent.Agent, error) {
		if builds != nil {
			builds.Add(1)
		}
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		return agent.New(cfg,
			agent.WithAPIKey("test"),
			agent.WithRuntime(agenttest.Echo("echo: ")),
			agent.WithLogger(quietLogger()),
		)
	})
}

func withKey(string) (string, bool) { return "sk-test", true }
func noKey(string) (string, bool)   { return "", false }

func callRequest(name string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultString(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	if res == nil {
		t.Fatal("nil result")
	}
	return textContent(res.Content)
}

func TestInvokeWithoutCredential(t *testing.T) {
	var builds atomic.Int32
	s := NewServer("test", echoLazy(&builds), WithServerEnv(noKey), WithServerLogger(quietLogger()))
	res, err := s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{"input": "hi"}))
	if err != nil {
		t.Fatalf("handleInvoke: %v", err)
	}
	if got := resultString(t, res); got != "OPENAI_API_KEY not found in environment!" {
		t.Fatalf("got %q", got)
	}
	if builds.Load() != 0 {
		t.Fatal("agent must not be built without a credential")
	}
}

func TestInvokeCredentialEnvOverride(t *testing.T) {
	s := NewServer("test", echoLazy(nil),
		WithCredentialEnv("ANTHROPIC_API_KEY"),
		WithServerEnv(noKey),
		WithServerLogger(quietLogger()),
	)
	res, _ := s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{"input": "hi"}))
	if got := resultString(t, res); got != "ANTHROPIC_API_KEY not found in environment!" {
		t.Fatalf("got %q", got)
	}
}

func TestInvokeExplicitKeySkipsEnv(t *testing.T) {
	s := NewServer("test", echoLazy(nil), WithServerAPIKey("k"), WithServerEnv(noKey), WithServerLogger(quietLogger()))
	res, _ := s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{"input": "hi"}))
	if got := resultString(t, res); got != "echo: hi" {
		t.Fatalf("got %q", got)
	}
}

func TestInvokeBuildsAgentOnce(t *testing.T) {
	var builds atomic.Int32
	s := NewServer("test", echoLazy(&builds), WithServerEnv(withKey), WithServerLogger(quietLogger()))
	for i := 0; i < 3; i++ {
		res, err := s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{"input": fmt.Sprint(i)}))
		if err != nil {
			t.Fatalf("handleInvoke: %v", err)
		}
		if got := resultString(t, res); got != fmt.Sprintf("echo: %d", i) {
			t.Fatalf("got %q", got)
		}
	}
	if builds.Load() != 1 {
		t.Fatalf("expected one build, got %d", builds.Load())
	}
}

func TestInvokeWithContext(t *testing.T) {
	s := NewServer("test", echoLazy(nil), WithServerEnv(withKey), WithServerLogger(quietLogger()))
	res, _ := s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{
		"input":   "review",
		"context": map[string]any{"line": float64(3), "ratio": 0.5, "tags": []any{float64(1), "x"}},
	}))
	want := "echo: Additional context: {'line': 3, 'ratio': 0.5, 'tags': [1, 'x']}\n\nreview"
	if got := resultString(t, res); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInvokeBadArguments(t *testing.T) {
	s := NewServer("test", echoLazy(nil), WithServerEnv(withKey), WithServerLogger(quietLogger()))

	res, _ := s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{}))
	if !res.IsError {
		t.Fatal("missing input should be a tool error")
	}
	res, _ = s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{"input": "x", "context": "nope"}))
	if !res.IsError {
		t.Fatal("non-object context should be a tool error")
	}
}

func TestInvokeConstructionFailure(t *testing.T) {
	lazy := agent.NewLazy(func() (*agent.Agent, error) {
		return nil, fmt.Errorf("template missing")
	})
	s := NewServer("test", lazy, WithServerEnv(withKey), WithServerLogger(quietLogger()))
	res, err := s.handleInvoke(context.Background(), callRequest(ToolInvoke, map[string]any{"input": "hi"}))
	if err != nil {
		t.Fatalf("handleInvoke: %v", err)
	}
	if !res.IsError || !strings.Contains(resultString(t, res), "template missing") {
		t.Fatalf("expected tool error, got %+v", res)
	}
}

func TestStatusTool(t *testing.T) {
	s := NewServer("test", echoLazy(nil), WithServerEnv(withKey), WithServerLogger(quietLogger()))
	res, _ := s.handleStatus(context.Background(), callRequest(ToolStatus, nil))
	got := resultString(t, res)
	if !strings.HasPrefix(got, "# Francisco Agent Status\n\n") {
		t.Fatalf("unexpected status: %q", got)
	}
}

func TestServeUnknownTransport(t *testing.T) {
	s := NewServer("test", echoLazy(nil), WithServerLogger(quietLogger()))
	err := s.Serve(context.Background(), "sse", "")
	if err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNormalizeNumbers(t *testing.T) {
	got := normalizeNumbers(map[string]any{
		"a": float64(2),
		"b": 2.5,
		"c": map[string]any{"d": float64(-1)},
	}).(map[string]any)
	if got["a"] != int64(2) || got["b"] != 2.5 || got["c"].(map[string]any)["d"] != int64(-1) {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestStreamableHTTPRoundTrip(t *testing.T) {
	s := NewServer("test", echoLazy(nil), WithServerEnv(withKey), WithServerLogger(quietLogger()))
	httpServer := mcpserver.NewTestStreamableHTTPServer(s.MCPServer())
	defer httpServer.Close()

	ctx := context.Background()
	client, err := NewClientWithStreamableHTTP(ctx, httpServer.URL)
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTP: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	if !names[ToolInvoke] || !names[ToolStatus] {
		t.Fatalf("expected invoke and status tools, got %v", names)
	}

	got, err := client.Invoke(ctx, "ping", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if want := "echo: Additional context: {'n': 1}\n\nping"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}
	s := NewServer("test", echoLazy(nil), WithServerAPIKey("k"), WithServerLogger(quietLogger()))
	if err := s.ServeStdio(context.Background(), os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestStdioRoundTrip(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	env := append(os.Environ(), mcpStdioHelperEnv+"=1")
	client, err := NewClientWithStdio(context.Background(), exe, env, []string{"-test.run", "^TestHelperMCPStdioServer$"})
	if err != nil {
		t.Fatalf("NewClientWithStdio: %v", err)
	}
	defer client.Close()

	got, err := client.CallText(context.Background(), ToolInvoke, map[string]any{"input": "hello"})
	if err != nil {
		t.Fatalf("CallText: %v", err)
	}
	if got != "echo: hello" {
		t.Fatalf("got %q", got)
	}
}
