// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for agent telemetry.
const (
	// Agent attributes
	AttrAgentName         = "francisco.agent.name"
	AttrAgentModel        = "francisco.agent.model"
	AttrAgentMaxIter      = "francisco.agent.max_iterations"
	AttrInvocationID      = "francisco.invocation.id"
	AttrInvocationOutcome = "francisco.invocation.outcome"
	AttrInputLength       = "francisco.invocation.input_length"
	AttrContextKeys       = "francisco.invocation.context_keys"
	AttrErrorCode         = "error.code"

	// LLM attributes (gen_ai conventions)
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMTurns        = "gen_ai.turns"
)

// AgentAttributes returns common attributes for invocation spans.
func AgentAttributes(name, model, invocationID string, maxIter int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentName, name),
	}
	if invocationID != "" {
		attrs = append(attrs, attribute.String(AttrInvocationID, invocationID))
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrAgentModel, model))
	}
	if maxIter > 0 {
		attrs = append(attrs, attribute.Int(AttrAgentMaxIter, maxIter))
	}
	return attrs
}

// InputAttributes describes the invocation input without recording it.
func InputAttributes(input string, contextKeys []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrInputLength, len(input)),
	}
	if len(contextKeys) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrContextKeys, contextKeys))
	}
	return attrs
}

// UsageAttributes returns token usage attributes.
func UsageAttributes(inputTokens, outputTokens, turns int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if turns > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTurns, turns))
	}
	return attrs
}
