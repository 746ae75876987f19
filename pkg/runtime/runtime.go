// Package runtime provides the agent execution environment: it turns a
// system prompt, a model and a turn budget into a runnable Handle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/francisco-agent/francisco/pkg/llm"
)

// DefaultMaxTurns is used when a Spec does not set a turn budget.
const DefaultMaxTurns = 10

// toolUnavailable answers tool calls; the runtime registers no tools.
const toolUnavailable = "tool not available"

var (
	// ErrMaxTurnsExceeded is returned when the model keeps requesting tools
	// past the turn budget.
	ErrMaxTurnsExceeded = errors.New("maximum turns exceeded")

	// ErrEmptyPrompt is returned by NewHandle for a blank system prompt.
	ErrEmptyPrompt = errors.New("system prompt is required")
)

// Spec describes the agent a Handle runs.
type Spec struct {
	Name     string
	Prompt   string
	Model    string
	MaxTurns int
}

// Result is the outcome of one Run.
type Result struct {
	FinalOutput string
	Turns       int
	Usage       llm.Usage
}

// Runtime builds Handles.
type Runtime interface {
	NewHandle(spec Spec) (Handle, error)
}

// Handle runs one configured agent. A Handle is safe for concurrent use.
type Handle interface {
	Run(ctx context.Context, input string) (*Result, error)
}

// LLMRuntime is an in-process runtime driving an llm.Provider.
type LLMRuntime struct {
	provider llm.Provider
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures an LLMRuntime.
type Option func(*LLMRuntime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *LLMRuntime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *LLMRuntime) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// NewLLMRuntime creates a runtime backed by provider.
func NewLLMRuntime(provider llm.Provider, opts ...Option) *LLMRuntime {
	r := &LLMRuntime{
		provider: provider,
		tracer:   otel.Tracer("francisco/runtime"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "runtime"))
	return r
}

// NewHandle validates spec and returns a Handle bound to it.
func (r *LLMRuntime) NewHandle(spec Spec) (Handle, error) {
	if r.provider == nil {
		return nil, errors.New("runtime has no provider")
	}
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if spec.MaxTurns <= 0 {
		spec.MaxTurns = DefaultMaxTurns
	}
	return &llmHandle{runtime: r, spec: spec}, nil
}

type llmHandle struct {
	runtime *LLMRuntime
	spec    Spec
}

// Run sends the prompt and input to the provider and loops while the model
// requests tool calls.
func (h *llmHandle) Run(ctx context.Context, input string) (*Result, error) {
	r := h.runtime
	ctx, span := r.tracer.Start(ctx, "francisco.runtime.run", trace.WithAttributes(
		attribute.String("francisco.agent.name", h.spec.Name),
		attribute.String("francisco.agent.model", h.spec.Model),
		attribute.Int("francisco.agent.max_turns", h.spec.MaxTurns),
	))
	defer span.End()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: h.spec.Prompt},
		{Role: llm.RoleUser, Content: input},
	}
	result := &Result{}

	for turn := 1; turn <= h.spec.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		resp, err := r.provider.Chat(ctx, llm.ChatRequest{
			Model:    h.spec.Model,
			Messages: messages,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}
		result.Turns = turn
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.FinalOutput = resp.Content
			span.SetAttributes(
				attribute.Int("francisco.run.turns", result.Turns),
				attribute.Int("francisco.run.total_tokens", result.Usage.TotalTokens),
			)
			return result, nil
		}

		r.logger.Debug("runtime.tool_calls.unavailable",
			slog.String("agent", h.spec.Name),
			slog.Int("turn", turn),
			slog.Int("count", len(resp.ToolCalls)),
		)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    fmt.Sprintf("%s: %s", toolUnavailable, tc.Function.Name),
				ToolCallID: tc.ID,
			})
		}
	}

	span.SetStatus(codes.Error, ErrMaxTurnsExceeded.Error())
	return nil, fmt.Errorf("%w (%d)", ErrMaxTurnsExceeded, h.spec.MaxTurns)
}
