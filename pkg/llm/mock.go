// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider is a testing implementation of Provider. It records every
// request it receives.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Requests returns a copy of the requests seen so far.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// ScriptedMockProvider returns a pre-defined sequence of responses, one per
// call. Useful for multi-turn loops.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Err       error
	CallCount int
}

// NewScriptedMockProvider creates a provider that answers with the given
// texts in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.Responses = append(s.Responses, &ChatResponse{Content: r})
	}
	return s
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}
	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp *ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}
