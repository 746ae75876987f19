// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic provides an Anthropic Messages API provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/francisco-agent/francisco/pkg/llm"
)

const (
	// DefaultModel is used when neither the request nor the provider names one.
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultMaxTokens bounds each response; the Messages API requires it.
	DefaultMaxTokens = 4096
)

// Provider implements llm.Provider for the Anthropic API.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	opts      []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithMaxTokens sets the maximum tokens for responses.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) {
		if tokens > 0 {
			p.maxTokens = tokens
		}
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.opts = append(p.opts, option.WithBaseURL(url))
	}
}

// WithAPIKey sets the API key. Without it the client reads ANTHROPIC_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.opts = append(p.opts, option.WithAPIKey(apiKey))
	}
}

// WithRequestOptions appends raw client options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(p *Provider) {
		p.opts = append(p.opts, opts...)
	}
}

// New creates a new Anthropic provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropic.NewClient(p.opts...)
	return p
}

// Model returns the provider's default model.
func (p *Provider) Model() string { return p.model }

// Chat implements llm.Provider. System messages are joined into the
// request's system prompt.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var system []string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		messages = append(messages, convertMessage(msg))
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic message failed: %w", err)
	}
	return convertResponse(message), nil
}

func convertMessage(msg llm.Message) anthropic.MessageParam {
	switch msg.Role {
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content))
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	case llm.RoleTool:
		// Tool results travel as user messages.
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content))
	}
}

func convertResponse(message *anthropic.Message) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID: block.ID,
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	resp.Content = text.String()
	return resp
}

var _ llm.Provider = (*Provider)(nil)
