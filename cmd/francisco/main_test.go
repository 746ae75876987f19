package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	"github.com/francisco-agent/francisco/pkg/agent"
	"github.com/francisco-agent/francisco/pkg/agenttest"
	"github.com/francisco-agent/francisco/pkg/audit"
	"github.com/francisco-agent/francisco/pkg/config"
	"github.com/francisco-agent/francisco/pkg/errors"
	"github.com/francisco-agent/francisco/pkg/mcp"
)

func emptyEnv(string) (string, bool) { return "", false }

func run(t *testing.T, lookup func(string) (string, bool), args ...string) (string, string, error) {
	t.Helper()
	return runWith(t, lookup, nil, args...)
}

func runWith(t *testing.T, lookup func(string) (string, bool), opts []agent.Option, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr, lookup, opts...).execute(context.Background(), args)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, emptyEnv, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "Francisco v"+version+"\n") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestWarnsWithoutAPIKey(t *testing.T) {
	_, stderr, err := run(t, emptyEnv, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(stderr, "Warning: OPENAI_API_KEY not found in environment") {
		t.Fatalf("expected warning, got %q", stderr)
	}

	_, stderr, _ = run(t, emptyEnv, "version", "-k", "sk-test")
	if strings.Contains(stderr, "Warning") {
		t.Fatalf("no warning expected with --api-key, got %q", stderr)
	}
}

func TestWarningNamesModelCredential(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.yaml",
		"agent:\n  name: claudio\n  description: anthropic backed\n  model: claude-sonnet-4-5\n")
	_, stderr, err := run(t, emptyEnv, "version", "-c", path)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(stderr, "Warning: ANTHROPIC_API_KEY not found in environment") {
		t.Fatalf("expected ANTHROPIC_API_KEY warning, got %q", stderr)
	}

	withKey := func(k string) (string, bool) {
		if k == "ANTHROPIC_API_KEY" {
			return "sk-ant", true
		}
		return "", false
	}
	_, stderr, _ = run(t, withKey, "version", "-c", path)
	if strings.Contains(stderr, "Warning") {
		t.Fatalf("no warning expected with ANTHROPIC_API_KEY set, got %q", stderr)
	}
}

func TestConfigRequiresCredential(t *testing.T) {
	_, _, err := run(t, emptyEnv, "config")
	if !errors.HasCode(err, errors.CodeMissingCredential) {
		t.Fatalf("expected MISSING_CREDENTIAL, got %v", err)
	}
}

func TestConfigText(t *testing.T) {
	out, _, err := run(t, emptyEnv, "config", "-k", "sk-test")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.HasPrefix(out, "Francisco Agent Configuration\n\n") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "francisco") {
		t.Fatalf("expected agent name in output: %q", out)
	}
}

func TestConfigYAML(t *testing.T) {
	out, _, err := run(t, emptyEnv, "config", "-k", "sk-test", "--format", "yaml")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	var doc struct {
		Agent struct {
			Name          string `yaml:"name"`
			MaxIterations int    `yaml:"max_iterations"`
		} `yaml:"agent"`
	}
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	if doc.Agent.Name == "" || doc.Agent.MaxIterations <= 0 {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestConfigUnknownFormat(t *testing.T) {
	_, _, err := run(t, emptyEnv, "config", "-k", "sk-test", "--format", "toml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	body := "agent:\n  name: envagent\n  description: from env\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	lookup := func(k string) (string, bool) {
		if k == "FRANCISCO_CONFIG_PATH" {
			return path, true
		}
		return "", false
	}
	out, _, err := run(t, lookup, "config", "-k", "sk-test", "--format", "yaml")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "name: envagent") {
		t.Fatalf("expected config from FRANCISCO_CONFIG_PATH, got %q", out)
	}
}

func TestConfigInvalidFile(t *testing.T) {
	_, _, err := run(t, emptyEnv, "config", "-k", "sk-test", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.HasCode(err, errors.CodeConfigSyntax) {
		t.Fatalf("expected CONFIG_SYNTAX, got %v", err)
	}
}

func TestAuditDBIsCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	if _, _, err := run(t, emptyEnv, "version", "--audit-db", path); err != nil {
		t.Fatalf("version: %v", err)
	}
	store, err := audit.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen audit db: %v", err)
	}
	defer store.Close()
	events, err := store.List(context.Background(), audit.Filter{})
	if err != nil || len(events) != 0 {
		t.Fatalf("expected empty audit log, got %d events (%v)", len(events), err)
	}
}

func TestTestAgentArgs(t *testing.T) {
	if _, _, err := run(t, emptyEnv, "test-agent"); err == nil {
		t.Fatal("expected error without input")
	}
	_, _, err := run(t, emptyEnv, "test-agent", "hi", "-k", "sk-test", "--context", "novalue")
	if err == nil || !strings.Contains(err.Error(), "key=value") {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestTestAgentInvokes(t *testing.T) {
	rt := agenttest.Echo("echo: ")
	out, _, err := runWith(t, emptyEnv, []agent.Option{agent.WithRuntime(rt)},
		"test-agent", "write a parser", "-k", "sk-test", "--context", "lang=go", "--context", "files=2")
	if err != nil {
		t.Fatalf("test-agent: %v", err)
	}
	if !strings.HasPrefix(out, "Testing Francisco Agent\nInput: write a parser\n\n") {
		t.Fatalf("unexpected preamble: %q", out)
	}
	want := "echo: Additional context: {'files': 2, 'lang': 'go'}\n\nwrite a parser"
	if !strings.Contains(out, "Francisco Agent Response\n\n"+want+"\n") {
		t.Fatalf("unexpected response block: %q", out)
	}
}

func TestTestAgentRuntimeFailure(t *testing.T) {
	rt := agenttest.NewRuntime().AddError(os.ErrDeadlineExceeded)
	out, _, err := runWith(t, emptyEnv, []agent.Option{agent.WithRuntime(rt)}, "test-agent", "hi", "-k", "sk-test")
	if err != nil {
		t.Fatalf("runtime failures must not fail the command: %v", err)
	}
	if !strings.Contains(out, agent.ErrorResponsePrefix) {
		t.Fatalf("expected error response, got %q", out)
	}
}

func TestTestAgentRecordsAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	rt := agenttest.NewRuntime().AddOutput("done")
	_, _, err := runWith(t, emptyEnv, []agent.Option{agent.WithRuntime(rt)},
		"test-agent", "hi", "-k", "sk-test", "--audit-db", path)
	if err != nil {
		t.Fatalf("test-agent: %v", err)
	}
	store, err := audit.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen audit db: %v", err)
	}
	defer store.Close()
	events, err := store.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 || events[0].Input != "hi" || events[0].Output != "done" || events[0].Status != audit.StatusOK {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestServeUnknownTransport(t *testing.T) {
	_, _, err := run(t, emptyEnv, "serve", "-k", "sk-test", "--transport", "sse")
	if err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestServeRejectsBrokenConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.yaml", "agent: [name\n")
	_, _, err := run(t, emptyEnv, "serve", "-c", path)
	if !errors.HasCode(err, errors.CodeConfigSyntax) {
		t.Fatalf("expected CONFIG_SYNTAX, got %v", err)
	}
}

func TestServeRejectsIncompleteTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "partial.txt", "You are {{.name}}.")
	path := writeFile(t, dir, "agent.yaml",
		"agent:\n  name: partial\n  description: short prompt\n  prompt_file: partial.txt\n")
	_, _, err := run(t, emptyEnv, "serve", "-c", path)
	if !errors.HasCode(err, errors.CodeTemplateSlot) {
		t.Fatalf("expected TEMPLATE_SLOT, got %v", err)
	}
}

func TestTeardownAfterFailedCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr, emptyEnv)
	err := a.execute(context.Background(), []string{"test-agent", "hi", "--audit-db", path})
	if !errors.HasCode(err, errors.CodeMissingCredential) {
		t.Fatalf("expected MISSING_CREDENTIAL, got %v", err)
	}
	if a.store != nil || a.shutdown != nil {
		t.Fatal("resources must be released when the command fails")
	}
}

func TestCallInvokesRemoteAgent(t *testing.T) {
	lazy := agent.NewLazy(func() (*agent.Agent, error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		return agent.New(cfg, agent.WithAPIKey("test"), agent.WithRuntime(agenttest.Echo("echo: ")))
	})
	srv := mcp.NewServer("test", lazy, mcp.WithServerAPIKey("test"))
	httpServer := mcpserver.NewTestStreamableHTTPServer(srv.MCPServer())
	defer httpServer.Close()

	out, _, err := run(t, emptyEnv, "call", "hello", "--server", httpServer.URL, "--context", "n=1")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "echo: Additional context: {'n': 1}\n\nhello\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCallUnreachableServer(t *testing.T) {
	httpServer := httptest.NewServer(http.NotFoundHandler())
	url := httpServer.URL
	httpServer.Close()

	_, _, err := run(t, emptyEnv, "call", "hello", "--server", url, "--retries", "0")
	if err == nil || !strings.Contains(err.Error(), url) {
		t.Fatalf("expected connection error naming %s, got %v", url, err)
	}
}

func TestUnknownTelemetryExporter(t *testing.T) {
	_, _, err := run(t, emptyEnv, "version", "--telemetry", "zipkin")
	if err == nil || !strings.Contains(err.Error(), "telemetry") {
		t.Fatalf("expected telemetry error, got %v", err)
	}
}

func TestParseContext(t *testing.T) {
	got, err := parseContext([]string{"file=main.go", "line=3", "strict=true", "tags=[a, b]", "empty=", "eq=a=b"})
	if err != nil {
		t.Fatalf("parseContext: %v", err)
	}
	if got["file"] != "main.go" || got["line"] != 3 || got["strict"] != true || got["empty"] != "" || got["eq"] != "a=b" {
		t.Fatalf("unexpected context: %#v", got)
	}
	tags, ok := got["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Fatalf("unexpected tags: %#v", got["tags"])
	}

	if got, err := parseContext(nil); err != nil || got != nil {
		t.Fatalf("expected nil context, got %v, %v", got, err)
	}
	if _, err := parseContext([]string{"=x"}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestPrintErrorHint(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.MissingCredential("OPENAI_API_KEY"))
	out := buf.String()
	if !strings.Contains(out, "MISSING_CREDENTIAL") || !strings.Contains(out, "Hint: export OPENAI_API_KEY") {
		t.Fatalf("unexpected output %q", out)
	}

	buf.Reset()
	printError(&buf, os.ErrNotExist)
	if strings.Contains(buf.String(), "Hint") {
		t.Fatalf("no hint expected for plain errors: %q", buf.String())
	}
}
