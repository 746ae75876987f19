// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"strings"

	"github.com/francisco-agent/francisco/pkg/llm"
	"github.com/francisco-agent/francisco/pkg/llm/anthropic"
	"github.com/francisco-agent/francisco/pkg/llm/openai"
)

const (
	// OpenAIKeyEnv holds the credential for OpenAI models.
	OpenAIKeyEnv = "OPENAI_API_KEY"

	// AnthropicKeyEnv holds the credential for Claude models.
	AnthropicKeyEnv = "ANTHROPIC_API_KEY"

	// OpenAIBaseURLEnv overrides the OpenAI endpoint (proxies, compatible servers).
	OpenAIBaseURLEnv = "FRANCISCO_OPENAI_BASE_URL"
)

// IsAnthropicModel reports whether model is served by Anthropic.
func IsAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "claude")
}

// CredentialEnv names the environment variable holding the credential for
// model.
func CredentialEnv(model string) string {
	if IsAnthropicModel(model) {
		return AnthropicKeyEnv
	}
	return OpenAIKeyEnv
}

// NewProvider returns the provider serving model, authenticated with apiKey.
// lookup reads optional endpoint overrides; nil disables them.
func NewProvider(model, apiKey string, lookup func(string) (string, bool)) llm.Provider {
	if IsAnthropicModel(model) {
		return anthropic.New(anthropic.WithModel(model), anthropic.WithAPIKey(apiKey))
	}

	opts := []openai.Option{openai.WithModel(model), openai.WithAPIKey(apiKey)}
	if lookup != nil {
		if base, ok := lookup(OpenAIBaseURLEnv); ok && base != "" {
			opts = append(opts, openai.WithBaseURL(base))
		}
	}
	return openai.New(opts...)
}
