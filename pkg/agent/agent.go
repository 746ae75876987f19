// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent wraps a configured agent runtime behind a string-in,
// string-out invocation API. Runtime failures never escape an invocation;
// they are logged, counted and turned into a response string.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/francisco-agent/francisco/pkg/audit"
	"github.com/francisco-agent/francisco/pkg/config"
	"github.com/francisco-agent/francisco/pkg/errors"
	"github.com/francisco-agent/francisco/pkg/runtime"
	"github.com/francisco-agent/francisco/pkg/telemetry"
)

const (
	// FallbackResponse is returned when the runtime produces no output.
	FallbackResponse = "I apologize, but I couldn't generate a response. Please try again."

	// ErrorResponsePrefix starts the response returned for runtime failures.
	ErrorResponsePrefix = "I encountered an error while processing your request: "

	// StatusHeader starts the Status report.
	StatusHeader = "# Francisco Agent Status\n\n"

	contextPrefix = "Additional context: "
)

// Agent is a configured, ready-to-invoke agent. It is immutable after New
// and safe for concurrent use.
type Agent struct {
	cfg     *config.AgentConfig
	prompt  string
	handle  runtime.Handle
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.InvocationMetrics
	store   audit.Store
}

type options struct {
	apiKey  string
	rt      runtime.Runtime
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.InvocationMetrics
	store   audit.Store
	lookup  func(string) (string, bool)
}

// Option configures an Agent.
type Option func(*options)

// WithAPIKey sets the credential explicitly. It takes precedence over the
// environment.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithRuntime replaces the default LLM runtime.
func WithRuntime(rt runtime.Runtime) Option {
	return func(o *options) { o.rt = rt }
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer used for invocation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMetrics records invocation metrics.
func WithMetrics(m *telemetry.InvocationMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAuditStore records every invocation in store.
func WithAuditStore(store audit.Store) Option {
	return func(o *options) { o.store = store }
}

// WithEnv replaces os.LookupEnv for credential and endpoint lookup.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) {
		if lookup != nil {
			o.lookup = lookup
		}
	}
}

// New builds an agent from cfg. The credential is checked before anything
// else; the prompt is rendered once and handed to the runtime.
func New(cfg *config.AgentConfig, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInternal, "agent configuration is required", nil)
	}
	o := &options{
		logger: slog.Default(),
		tracer: otel.Tracer("francisco/agent"),
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.With(slog.String("component", "agent"), slog.String("agent", cfg.Name))

	apiKey, err := resolveCredential(cfg.Model, o.apiKey, o.lookup)
	if err != nil {
		return nil, err
	}

	prompt, err := cfg.Render()
	if err != nil {
		return nil, err
	}

	rt := o.rt
	if rt == nil {
		rt = runtime.NewLLMRuntime(
			runtime.NewProvider(cfg.Model, apiKey, o.lookup),
			runtime.WithLogger(o.logger),
		)
	}
	handle, err := rt.NewHandle(runtime.Spec{
		Name:     cfg.Name,
		Prompt:   prompt,
		Model:    cfg.Model,
		MaxTurns: cfg.MaxIterations,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "cannot create agent runtime handle", err).
			WithContext("model", cfg.Model)
	}

	logger.Info("agent.initialized",
		slog.String("description", cfg.Description),
		slog.String("model", cfg.Model),
		slog.String("config", cfg.Source()),
	)
	return &Agent{
		cfg:     cfg,
		prompt:  prompt,
		handle:  handle,
		logger:  logger,
		tracer:  o.tracer,
		metrics: o.metrics,
		store:   o.store,
	}, nil
}

// NewFromPath loads the configuration at path (bundled default when empty)
// and builds an agent. apiKey may be empty to use the environment.
func NewFromPath(path, apiKey string, opts ...Option) (*Agent, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	}
	return New(cfg, opts...)
}

func resolveCredential(model, explicit string, lookup func(string) (string, bool)) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	envVar := runtime.CredentialEnv(model)
	if key, ok := lookup(envVar); ok && strings.TrimSpace(key) != "" {
		return strings.TrimSpace(key), nil
	}
	return "", errors.MissingCredential(envVar)
}

// Invoke runs the agent on input. extra, when non-empty, is prefixed to the
// input as additional context. Cancellation of ctx is left to the runtime.
// Invoke always returns a response string.
func (a *Agent) Invoke(ctx context.Context, input string, extra map[string]any) string {
	id := uuid.NewString()
	started := time.Now()

	ctx, span := a.tracer.Start(ctx, "francisco.invoke",
		trace.WithAttributes(telemetry.AgentAttributes(a.cfg.Name, a.cfg.Model, id, a.cfg.MaxIterations)...),
		trace.WithAttributes(telemetry.InputAttributes(input, contextKeys(extra))...),
	)
	defer span.End()

	log := a.logger.With(slog.String("invocation_id", id))
	log.InfoContext(ctx, "agent.invoke.start", slog.String("input", preview(input, 100)))

	res, runErr := a.run(ctx, BuildInput(input, extra))

	event := audit.Event{
		ID:        id,
		Agent:     a.cfg.Name,
		Model:     a.cfg.Model,
		Input:     input,
		Context:   extra,
		StartedAt: started,
	}
	var out, outcome string
	switch {
	case runErr != nil:
		ae := WrapRuntimeError(runErr, a.cfg.Model, id)
		log.ErrorContext(ctx, "agent.invoke.error",
			slog.String("error.code", string(ae.Code)),
			slog.String("error", runErr.Error()),
		)
		span.RecordError(ae)
		span.SetStatus(codes.Error, runErr.Error())
		a.metrics.RecordError(ctx, ae, "agent")
		out = ErrorResponse(ae)
		outcome = telemetry.OutcomeError
		event.Error = runErr.Error()
	case res == nil || res.FinalOutput == "":
		log.WarnContext(ctx, "agent.invoke.empty")
		out = FallbackResponse
		outcome = telemetry.OutcomeEmpty
	default:
		span.SetAttributes(telemetry.UsageAttributes(res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Turns)...)
		log.InfoContext(ctx, "agent.invoke.complete",
			slog.Int("turns", res.Turns),
			slog.Int("total_tokens", res.Usage.TotalTokens),
		)
		out = res.FinalOutput
		outcome = telemetry.OutcomeOK
	}

	elapsed := time.Since(started)
	a.metrics.RecordInvocation(ctx, a.cfg.Name, a.cfg.Model, outcome, elapsed)
	event.Output = out
	event.Status = outcome
	event.FinishedAt = started.Add(elapsed)
	a.record(ctx, log, event)
	return out
}

// run calls the runtime, turning a panic into an error.
func (a *Agent) run(ctx context.Context, input string) (res *runtime.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("runtime panic: %v", r)
		}
	}()
	return a.handle.Run(ctx, input)
}

func (a *Agent) record(ctx context.Context, log *slog.Logger, event audit.Event) {
	if a.store == nil {
		return
	}
	if err := a.store.Record(context.WithoutCancel(ctx), event); err != nil {
		log.WarnContext(ctx, "agent.audit.record_failed", slog.String("error", err.Error()))
	}
}

// InvokeSync is the blocking form of Invoke, run with a background context.
func (a *Agent) InvokeSync(input string, extra map[string]any) string {
	return a.Invoke(context.Background(), input, extra)
}

// InvokeAsync runs Invoke on a new goroutine. The returned channel yields
// exactly one response and is then closed.
func (a *Agent) InvokeAsync(ctx context.Context, input string, extra map[string]any) <-chan string {
	out := make(chan string, 1)
	go func() {
		defer close(out)
		out <- a.Invoke(ctx, input, extra)
	}()
	return out
}

// Config returns the agent configuration.
func (a *Agent) Config() *config.AgentConfig { return a.cfg }

// Prompt returns the rendered system prompt.
func (a *Agent) Prompt() string { return a.prompt }

// Status reports the agent configuration as a markdown document.
func (a *Agent) Status() string {
	return StatusHeader + a.prompt
}

// String returns "name: description".
func (a *Agent) String() string {
	return a.cfg.Name + ": " + a.cfg.Description
}

// BuildInput prefixes input with the formatted context when extra is
// non-empty.
func BuildInput(input string, extra map[string]any) string {
	if len(extra) == 0 {
		return input
	}
	return contextPrefix + FormatContext(extra) + "\n\n" + input
}

func contextKeys(extra map[string]any) []string {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
