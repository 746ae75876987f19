// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the agent configuration and assembles
// it into a system prompt.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/francisco-agent/francisco/pkg/errors"
	"github.com/francisco-agent/francisco/pkg/prompt"
)

const (
	// DefaultModel is used when the configuration does not name a model.
	DefaultModel = "gpt-5-mini"

	// DefaultMaxIterations bounds agent turns when unset.
	DefaultMaxIterations = 10

	// DefaultPromptFile names the bundled prompt template.
	DefaultPromptFile = prompt.DefaultTemplateName

	// DefaultConfigName names the bundled agent configuration.
	DefaultConfigName = "francisco.yaml"

	// EnvPrefix prefixes environment overrides (FRANCISCO_AGENT_MODEL -> agent.model).
	EnvPrefix = "FRANCISCO_AGENT_"
)

//go:embed francisco.yaml
var defaultConfig []byte

// AgentConfig is the validated agent configuration. It is read-only once
// returned by Load or FromMap.
type AgentConfig struct {
	Name          string `koanf:"name" yaml:"name"`
	Description   string `koanf:"description" yaml:"description"`
	Model         string `koanf:"model" yaml:"model"`
	MaxIterations int    `koanf:"max_iterations" yaml:"max_iterations"`
	PromptFile    string `koanf:"prompt_file" yaml:"prompt_file"`

	Personality              Personality              `koanf:"personality" yaml:"personality,omitempty"`
	CoreObjectives           CoreObjectives           `koanf:"core_objectives" yaml:"core_objectives,omitempty"`
	Capabilities             Capabilities             `koanf:"capabilities" yaml:"capabilities,omitempty"`
	Strategy                 Strategy                 `koanf:"self_replication_strategy" yaml:"self_replication_strategy,omitempty"`
	WorkingPrinciples        WorkingPrinciples        `koanf:"working_principles" yaml:"working_principles,omitempty"`
	InteractionGuidelines    InteractionGuidelines    `koanf:"interaction_guidelines" yaml:"interaction_guidelines,omitempty"`
	SuccessMetrics           SuccessMetrics           `koanf:"success_metrics" yaml:"success_metrics,omitempty"`
	LimitationsAndBoundaries LimitationsAndBoundaries `koanf:"limitations_and_boundaries" yaml:"limitations_and_boundaries,omitempty"`

	source  string
	baseDir string
}

// Slot names understood by the prompt template, in template order.
const (
	SlotName                     = "name"
	SlotDescription              = "description"
	SlotModel                    = "model"
	SlotMaxIterations            = "max_iterations"
	SlotCoreObjectives           = "core_objectives"
	SlotPersonality              = "personality"
	SlotCapabilities             = "capabilities"
	SlotStrategy                 = "self_replication_strategy"
	SlotWorkingPrinciples        = "working_principles"
	SlotInteractionGuidelines    = "interaction_guidelines"
	SlotSuccessMetrics           = "success_metrics"
	SlotLimitationsAndBoundaries = "limitations_and_boundaries"
)

var slotRegistry = []string{
	SlotName, SlotDescription, SlotModel, SlotMaxIterations,
	SlotCoreObjectives, SlotPersonality, SlotCapabilities, SlotStrategy,
	SlotWorkingPrinciples, SlotInteractionGuidelines, SlotSuccessMetrics,
	SlotLimitationsAndBoundaries,
}

// SlotRegistry returns every slot name a template may reference.
func SlotRegistry() []string {
	return append([]string(nil), slotRegistry...)
}

// Load reads the agent configuration from a YAML file. An empty path loads
// the bundled default configuration. Environment variables prefixed with
// FRANCISCO_AGENT_ override identity fields.
func Load(path string) (*AgentConfig, error) {
	k := koanf.New(".")

	if path == "" {
		raw, err := yaml.Parser().Unmarshal(defaultConfig)
		if err != nil {
			return nil, errors.ConfigSyntax("embedded:"+DefaultConfigName, err)
		}
		if err := k.Load(mapProvider(raw), nil); err != nil {
			return nil, errors.ConfigSyntax("embedded:"+DefaultConfigName, err)
		}
		if err := loadEnv(k); err != nil {
			return nil, err
		}
		return build(k, "embedded:"+DefaultConfigName, "")
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.ConfigSyntax(path, err)
	}
	if err := loadEnv(k); err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	return build(k, path, baseDir)
}

// FromMap builds the configuration from an already-parsed source. The
// mapping is expected to hold the agent under the `agent` key. locator
// names the source in error messages. Environment overrides are not applied.
func FromMap(source map[string]interface{}, locator string) (*AgentConfig, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(source), nil); err != nil {
		return nil, errors.ConfigSyntax(locator, err)
	}
	baseDir, _ := os.Getwd()
	return build(k, locator, baseDir)
}

func loadEnv(k *koanf.Koanf) error {
	overrides := map[string]string{
		"NAME":           "agent.name",
		"DESCRIPTION":    "agent.description",
		"MODEL":          "agent.model",
		"MAX_ITERATIONS": "agent.max_iterations",
		"PROMPT_FILE":    "agent.prompt_file",
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return overrides[strings.TrimPrefix(s, EnvPrefix)]
	}), nil)
	if err != nil {
		return errors.ConfigSyntax("environment", err)
	}
	return nil
}

func build(k *koanf.Koanf, source, baseDir string) (*AgentConfig, error) {
	agent := map[string]interface{}{}
	if k.Exists("agent") {
		m, ok := k.Get("agent").(map[string]interface{})
		if !ok {
			return nil, errors.ConfigValidation(source, "agent", "expected a mapping")
		}
		agent = m
	}
	agent = normalize(agent)

	if err := validateSchema(agent, source); err != nil {
		return nil, err
	}

	for _, field := range []string{"name", "description"} {
		if s, _ := agent[field].(string); strings.TrimSpace(s) == "" {
			return nil, errors.ConfigValidation(source, field, "must not be blank")
		}
	}

	nk := koanf.New(".")
	if err := nk.Load(mapProvider(agent), nil); err != nil {
		return nil, errors.ConfigSyntax(source, err)
	}

	cfg := &AgentConfig{}
	if err := nk.Unmarshal("", cfg); err != nil {
		return nil, errors.New(errors.CodeConfigValidation, fmt.Sprintf("cannot decode configuration from %s", source), err).
			WithContext("field", "agent").
			WithContext("source", source)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.PromptFile == "" {
		cfg.PromptFile = DefaultPromptFile
	}
	cfg.source = source
	cfg.baseDir = baseDir
	return cfg, nil
}

// Source returns the locator the configuration was loaded from.
func (c *AgentConfig) Source() string { return c.source }

// Slots returns the value of every template slot.
func (c *AgentConfig) Slots() map[string]string {
	return map[string]string{
		SlotName:                     c.Name,
		SlotDescription:              c.Description,
		SlotModel:                    c.Model,
		SlotMaxIterations:            strconv.Itoa(c.MaxIterations),
		SlotCoreObjectives:           c.CoreObjectives.Render(),
		SlotPersonality:              c.Personality.Render(),
		SlotCapabilities:             c.Capabilities.Render(),
		SlotStrategy:                 c.Strategy.Render(),
		SlotWorkingPrinciples:        c.WorkingPrinciples.Render(),
		SlotInteractionGuidelines:    c.InteractionGuidelines.Render(),
		SlotSuccessMetrics:           c.SuccessMetrics.Render(),
		SlotLimitationsAndBoundaries: c.LimitationsAndBoundaries.Render(),
	}
}

// ResolveTemplate returns the text of the prompt template named by
// PromptFile.
func (c *AgentConfig) ResolveTemplate() (string, error) {
	text, _, err := prompt.Resolve(c.PromptFile, c.baseDir)
	return text, err
}

// Template resolves and parses the prompt template and checks it against
// the slot registry: every referenced slot must be registered and every
// registered slot must be referenced.
func (c *AgentConfig) Template() (*prompt.Template, error) {
	text, source, err := prompt.Resolve(c.PromptFile, c.baseDir)
	if err != nil {
		return nil, err
	}
	tmpl, err := prompt.Parse(source, text)
	if err != nil {
		return nil, err
	}
	if err := tmpl.Validate(slotRegistry); err != nil {
		return nil, err
	}
	if missing := tmpl.Missing(slotRegistry); len(missing) > 0 {
		return nil, errors.TemplateSlotsMissing(source, missing)
	}
	return tmpl, nil
}

// Render assembles the system prompt.
func (c *AgentConfig) Render() (string, error) {
	tmpl, err := c.Template()
	if err != nil {
		return "", err
	}
	return tmpl.Render(c.Slots())
}

// String returns the rendered prompt, or the rendering error.
func (c *AgentConfig) String() string {
	out, err := c.Render()
	if err != nil {
		return err.Error()
	}
	return out
}

// mapProvider exposes an in-memory mapping as a koanf.Provider.
type mapProvider map[string]interface{}

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]interface{}, error) {
	return copyMap(m), nil
}
