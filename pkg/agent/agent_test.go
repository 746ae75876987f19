package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/francisco-agent/francisco/pkg/audit"
	"github.com/francisco-agent/francisco/pkg/config"
	"github.com/francisco-agent/francisco/pkg/errors"
	"github.com/francisco-agent/francisco/pkg/llm"
	"github.com/francisco-agent/francisco/pkg/runtime"
)

type fakeRuntime struct {
	handle *fakeHandle
	err    error
	specs  []runtime.Spec
}

func (f *fakeRuntime) NewHandle(spec runtime.Spec) (runtime.Handle, error) {
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

type fakeHandle struct {
	mu     sync.Mutex
	output string
	err    error
	panic  any
	delay  time.Duration
	inputs []string
}

func (h *fakeHandle) Run(ctx context.Context, input string) (*runtime.Result, error) {
	h.mu.Lock()
	h.inputs = append(h.inputs, input)
	h.mu.Unlock()
	if h.panic != nil {
		panic(h.panic)
	}
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	return &runtime.Result{
		FinalOutput: h.output,
		Turns:       1,
		Usage:       llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (h *fakeHandle) lastInput() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.inputs) == 0 {
		return ""
	}
	return h.inputs[len(h.inputs)-1]
}

func noEnv(string) (string, bool) { return "", false }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadDefault(t *testing.T) *config.AgentConfig {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	return cfg
}

func newTestAgent(t *testing.T, h *fakeHandle, opts ...Option) *Agent {
	t.Helper()
	base := []Option{
		WithAPIKey("test-key"),
		WithRuntime(&fakeRuntime{handle: h}),
		WithLogger(quietLogger()),
		WithEnv(noEnv),
	}
	a, err := New(loadDefault(t), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewPassesRenderedPrompt(t *testing.T) {
	cfg := loadDefault(t)
	rt := &fakeRuntime{handle: &fakeHandle{}}
	a, err := New(cfg, WithAPIKey("k"), WithRuntime(rt), WithLogger(quietLogger()), WithEnv(noEnv))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want, err := cfg.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(rt.specs) != 1 {
		t.Fatalf("expected one handle, got %d", len(rt.specs))
	}
	spec := rt.specs[0]
	if spec.Prompt != want || a.Prompt() != want {
		t.Fatal("runtime prompt differs from rendered template")
	}
	if spec.Name != cfg.Name || spec.Model != cfg.Model || spec.MaxTurns != cfg.MaxIterations {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestNewMissingCredential(t *testing.T) {
	rt := &fakeRuntime{handle: &fakeHandle{}}
	_, err := New(loadDefault(t), WithRuntime(rt), WithLogger(quietLogger()), WithEnv(noEnv))
	if err == nil {
		t.Fatal("expected missing credential error")
	}
	if !IsMissingCredential(err) {
		t.Fatalf("expected MISSING_CREDENTIAL, got %v", err)
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("error should name the variable: %v", err)
	}
	if len(rt.specs) != 0 {
		t.Fatal("runtime must not be touched without a credential")
	}
}

func TestNewCredentialFromEnv(t *testing.T) {
	env := func(k string) (string, bool) {
		if k == "OPENAI_API_KEY" {
			return "env-key", true
		}
		return "", false
	}
	_, err := New(loadDefault(t), WithRuntime(&fakeRuntime{handle: &fakeHandle{}}), WithLogger(quietLogger()), WithEnv(env))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestNewBlankCredentialIsMissing(t *testing.T) {
	env := func(string) (string, bool) { return "   ", true }
	_, err := New(loadDefault(t), WithAPIKey(" "), WithRuntime(&fakeRuntime{handle: &fakeHandle{}}), WithLogger(quietLogger()), WithEnv(env))
	if !errors.HasCode(err, errors.CodeMissingCredential) {
		t.Fatalf("expected MISSING_CREDENTIAL, got %v", err)
	}
}

func TestNewAnthropicModelNeedsAnthropicKey(t *testing.T) {
	cfg := loadDefault(t)
	cfg.Model = "claude-sonnet-4-20250514"
	env := func(k string) (string, bool) {
		if k == "OPENAI_API_KEY" {
			return "openai", true
		}
		return "", false
	}
	_, err := New(cfg, WithRuntime(&fakeRuntime{handle: &fakeHandle{}}), WithLogger(quietLogger()), WithEnv(env))
	if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("expected ANTHROPIC_API_KEY error, got %v", err)
	}
}

func TestNewHandleFailure(t *testing.T) {
	rt := &fakeRuntime{err: fmt.Errorf("boom")}
	_, err := New(loadDefault(t), WithAPIKey("k"), WithRuntime(rt), WithLogger(quietLogger()), WithEnv(noEnv))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected handle error, got %v", err)
	}
}

func TestNewNilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewFromPathMissingFile(t *testing.T) {
	_, err := NewFromPath("/does/not/exist.yaml", "k")
	if !errors.HasCode(err, errors.CodeConfigSyntax) {
		t.Fatalf("expected CONFIG_SYNTAX, got %v", err)
	}
}

func TestInvokeReturnsOutput(t *testing.T) {
	h := &fakeHandle{output: "hello there"}
	a := newTestAgent(t, h)
	if got := a.Invoke(context.Background(), "hi", nil); got != "hello there" {
		t.Fatalf("unexpected output %q", got)
	}
	if h.lastInput() != "hi" {
		t.Fatalf("input without context must be forwarded unchanged, got %q", h.lastInput())
	}
}

func TestInvokeWithContext(t *testing.T) {
	h := &fakeHandle{output: "ok"}
	a := newTestAgent(t, h)
	a.Invoke(context.Background(), "review this", map[string]any{"file": "main.go", "line": 3})
	want := "Additional context: {'file': 'main.go', 'line': 3}\n\nreview this"
	if h.lastInput() != want {
		t.Fatalf("got %q, want %q", h.lastInput(), want)
	}
}

func TestInvokeEmptyContextIsOmitted(t *testing.T) {
	h := &fakeHandle{output: "ok"}
	a := newTestAgent(t, h)
	a.Invoke(context.Background(), "plain", map[string]any{})
	if h.lastInput() != "plain" {
		t.Fatalf("got %q", h.lastInput())
	}
}

func TestInvokeEmptyOutputFallsBack(t *testing.T) {
	a := newTestAgent(t, &fakeHandle{output: ""})
	if got := a.InvokeSync("hi", nil); got != FallbackResponse {
		t.Fatalf("got %q", got)
	}
}

func TestInvokeWhitespaceOutputIsReturned(t *testing.T) {
	a := newTestAgent(t, &fakeHandle{output: " "})
	if got := a.InvokeSync("hi", nil); got != " " {
		t.Fatalf("got %q", got)
	}
}

func TestInvokeErrorBecomesResponse(t *testing.T) {
	a := newTestAgent(t, &fakeHandle{err: fmt.Errorf("rate limited")})
	got := a.InvokeSync("hi", nil)
	want := "I encountered an error while processing your request: rate limited"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	a := newTestAgent(t, &fakeHandle{panic: "kaboom"})
	got := a.InvokeSync("hi", nil)
	if !strings.HasPrefix(got, ErrorResponsePrefix) || !strings.Contains(got, "kaboom") {
		t.Fatalf("got %q", got)
	}
}

func TestInvokeCancelled(t *testing.T) {
	a := newTestAgent(t, &fakeHandle{output: "late", delay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := a.Invoke(ctx, "hi", nil)
	if !strings.HasPrefix(got, ErrorResponsePrefix) || !strings.Contains(got, "context canceled") {
		t.Fatalf("got %q", got)
	}
}

func TestInvokeAsync(t *testing.T) {
	a := newTestAgent(t, &fakeHandle{output: "async"})
	ch := a.InvokeAsync(context.Background(), "hi", nil)
	select {
	case got, ok := <-ch:
		if !ok || got != "async" {
			t.Fatalf("got %q (open=%v)", got, ok)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async response")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after the response")
	}
}

func TestInvokeConcurrent(t *testing.T) {
	h := &fakeHandle{output: "ok"}
	a := newTestAgent(t, h)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if got := a.InvokeSync(fmt.Sprintf("q%d", i), nil); got != "ok" {
				t.Errorf("got %q", got)
			}
		}(i)
	}
	wg.Wait()
	if len(h.inputs) != 20 {
		t.Fatalf("expected 20 runs, got %d", len(h.inputs))
	}
}

func TestInvokeRecordsAudit(t *testing.T) {
	store := audit.NewMemoryStore()
	h := &fakeHandle{output: "done"}
	a := newTestAgent(t, h, WithAuditStore(store))

	a.InvokeSync("first", map[string]any{"k": "v"})
	h.err = fmt.Errorf("broken")
	a.InvokeSync("second", nil)

	events, err := store.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	byInput := map[string]audit.Event{}
	for _, e := range events {
		byInput[e.Input] = e
	}
	ok := byInput["first"]
	if ok.Status != audit.StatusOK || ok.Output != "done" || ok.Context["k"] != "v" || ok.ID == "" {
		t.Fatalf("unexpected ok event: %+v", ok)
	}
	failed := byInput["second"]
	if failed.Status != audit.StatusError || failed.Error != "broken" {
		t.Fatalf("unexpected error event: %+v", failed)
	}
	if !strings.HasPrefix(failed.Output, ErrorResponsePrefix) {
		t.Fatalf("unexpected error output %q", failed.Output)
	}
}

func TestStatusAndString(t *testing.T) {
	a := newTestAgent(t, &fakeHandle{})
	cfg := a.Config()
	if got, want := a.String(), cfg.Name+": "+cfg.Description; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	status := a.Status()
	if !strings.HasPrefix(status, "# Francisco Agent Status\n\n") {
		t.Fatalf("unexpected status header: %q", status[:40])
	}
	if !strings.HasSuffix(status, a.Prompt()) {
		t.Fatal("status should include the rendered configuration")
	}
}

func TestErrorResponseUnwrapsRuntimeError(t *testing.T) {
	err := WrapRuntimeError(fmt.Errorf("upstream 500"), "gpt-5-mini", "id-1")
	if got := ErrorResponse(err); got != ErrorResponsePrefix+"upstream 500" {
		t.Fatalf("got %q", got)
	}
	if err.Context["invocation_id"] != "id-1" || err.Context["model"] != "gpt-5-mini" {
		t.Fatalf("unexpected context: %v", err.Context)
	}
	if WrapRuntimeError(nil, "m", "") != nil {
		t.Fatal("nil error should wrap to nil")
	}
}

func TestWrapRuntimeErrorMaxTurns(t *testing.T) {
	err := WrapRuntimeError(fmt.Errorf("%w (10)", runtime.ErrMaxTurnsExceeded), "m", "")
	if err.Recoverable {
		t.Fatal("max turns should not be recoverable")
	}
}
