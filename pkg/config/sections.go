// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"sort"
	"strconv"
	"strings"
)

// Personality describes the agent's traits and communication style.
type Personality struct {
	PrimaryTraits      []string `koanf:"primary_traits" yaml:"primary_traits,omitempty"`
	CommunicationStyle []string `koanf:"communication_style" yaml:"communication_style,omitempty"`
}

// Render returns the personality block, or "" when it has no entries.
func (p Personality) Render() string {
	return renderSection("personality",
		bullets("personality_traits", p.PrimaryTraits),
		bullets("communication_style", p.CommunicationStyle),
	)
}

func (p Personality) String() string { return p.Render() }

// Capabilities lists what the agent can work with.
type Capabilities struct {
	ProgrammingLanguages []string `koanf:"programming_languages" yaml:"programming_languages,omitempty"`
	FrameworksAndTools   []string `koanf:"frameworks_and_tools" yaml:"frameworks_and_tools,omitempty"`
	ProjectTypes         []string `koanf:"project_types" yaml:"project_types,omitempty"`
}

// Render returns the capabilities block, or "" when it has no entries.
func (c Capabilities) Render() string {
	return renderSection("capabilities",
		bullets("programming_languages", c.ProgrammingLanguages),
		bullets("frameworks_and_tools", c.FrameworksAndTools),
		bullets("project_types", c.ProjectTypes),
	)
}

func (c Capabilities) String() string { return c.Render() }

// CoreObjectives holds the agent's primary and secondary goals.
type CoreObjectives struct {
	PrimaryGoals   []string `koanf:"primary_goals" yaml:"primary_goals,omitempty"`
	SecondaryGoals []string `koanf:"secondary_goals" yaml:"secondary_goals,omitempty"`
}

// Render returns the objectives block, or "" when it has no entries.
func (o CoreObjectives) Render() string {
	return renderSection("core_objectives",
		bullets("primary_goals", o.PrimaryGoals),
		bullets("secondary_goals", o.SecondaryGoals),
	)
}

func (o CoreObjectives) String() string { return o.Render() }

// Strategy is the self-replication strategy. Phases are keyed by phase
// number and render in numeric order.
type Strategy struct {
	Approach           string            `koanf:"approach" yaml:"approach,omitempty"`
	Phases             map[string]string `koanf:"phases" yaml:"phases,omitempty"`
	ReplicationTargets []string          `koanf:"replication_targets" yaml:"replication_targets,omitempty"`
	QualityStandards   []string          `koanf:"quality_standards" yaml:"quality_standards,omitempty"`
}

// Render returns the strategy block, or "" when it has no entries.
func (s Strategy) Render() string {
	return renderSection("self_replication_strategy",
		paragraph("approach", s.Approach),
		bullets("phases", orderedPhases(s.Phases)),
		bullets("replication_targets", s.ReplicationTargets),
		bullets("quality_standards", s.QualityStandards),
	)
}

func (s Strategy) String() string { return s.Render() }

// WorkingPrinciples groups code quality, structure and workflow rules.
type WorkingPrinciples struct {
	CodeQuality         []string `koanf:"code_quality" yaml:"code_quality,omitempty"`
	ProjectStructure    []string `koanf:"project_structure" yaml:"project_structure,omitempty"`
	DevelopmentWorkflow []string `koanf:"development_workflow" yaml:"development_workflow,omitempty"`
}

// Render returns the principles block, or "" when it has no entries.
func (w WorkingPrinciples) Render() string {
	return renderSection("working_principles",
		bullets("code_quality", w.CodeQuality),
		bullets("project_structure", w.ProjectStructure),
		bullets("development_workflow", w.DevelopmentWorkflow),
	)
}

func (w WorkingPrinciples) String() string { return w.Render() }

// InteractionGuidelines describes how the agent behaves when called.
type InteractionGuidelines struct {
	WhenInvoked   []string `koanf:"when_invoked" yaml:"when_invoked,omitempty"`
	Communication []string `koanf:"communication" yaml:"communication,omitempty"`
}

// Render returns the guidelines block, or "" when it has no entries.
func (g InteractionGuidelines) Render() string {
	return renderSection("interaction_guidelines",
		bullets("when_invoked", g.WhenInvoked),
		bullets("communication", g.Communication),
	)
}

func (g InteractionGuidelines) String() string { return g.Render() }

// SuccessMetrics lists how the agent's work is judged.
type SuccessMetrics struct {
	Metrics []string `koanf:"metrics" yaml:"metrics,omitempty"`
}

// Render returns the metrics block, or "" when it has no entries.
func (m SuccessMetrics) Render() string {
	return renderSection("success_metrics", bullets("metrics", m.Metrics))
}

func (m SuccessMetrics) String() string { return m.Render() }

// LimitationsAndBoundaries lists what the agent must not do.
type LimitationsAndBoundaries struct {
	Limitations []string `koanf:"limitations" yaml:"limitations,omitempty"`
}

// Render returns the limitations block, or "" when it has no entries.
func (l LimitationsAndBoundaries) Render() string {
	return renderSection("limitations_and_boundaries", bullets("limitations", l.Limitations))
}

func (l LimitationsAndBoundaries) String() string { return l.Render() }

// subBlock is one inner tagged block of a section.
type subBlock struct {
	tag  string
	body string
}

func bullets(tag string, entries []string) subBlock {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		lines = append(lines, "- "+entry)
	}
	return subBlock{tag: tag, body: strings.Join(lines, "\n")}
}

func paragraph(tag, value string) subBlock {
	return subBlock{tag: tag, body: strings.TrimSpace(value)}
}

// renderSection wraps the non-empty sub-blocks in an outer tag. A section
// with no non-empty sub-block renders as "".
func renderSection(tag string, blocks ...subBlock) string {
	parts := make([]string, 0, len(blocks)+2)
	for _, b := range blocks {
		if b.body == "" {
			continue
		}
		parts = append(parts, "<"+b.tag+">\n"+b.body+"\n</"+b.tag+">")
	}
	if len(parts) == 0 {
		return ""
	}
	return "<" + tag + ">\n" + strings.Join(parts, "\n") + "\n</" + tag + ">"
}

// orderedPhases returns phase descriptions sorted by numeric key. Keys that
// are not numbers sort after numbered phases, alphabetically.
func orderedPhases(phases map[string]string) []string {
	if len(phases) == 0 {
		return nil
	}
	keys := make([]string, 0, len(phases))
	for k := range phases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, phases[k])
	}
	return out
}
