// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/francisco-agent/francisco/pkg/errors"
)

// agentSchema describes the shape of the `agent` mapping. Unknown fields are
// allowed and ignored.
const agentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "description"],
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "model": {"type": "string", "minLength": 1},
    "max_iterations": {"type": "integer", "minimum": 1},
    "prompt_file": {"type": "string"},
    "personality": {
      "type": ["object", "null"],
      "properties": {
        "primary_traits": {"$ref": "#/definitions/entries"},
        "communication_style": {"$ref": "#/definitions/entries"}
      }
    },
    "capabilities": {
      "type": ["object", "null"],
      "properties": {
        "programming_languages": {"$ref": "#/definitions/entries"},
        "frameworks_and_tools": {"$ref": "#/definitions/entries"},
        "project_types": {"$ref": "#/definitions/entries"}
      }
    },
    "core_objectives": {
      "type": ["object", "null"],
      "properties": {
        "primary_goals": {"$ref": "#/definitions/entries"},
        "secondary_goals": {"$ref": "#/definitions/entries"}
      }
    },
    "self_replication_strategy": {
      "type": ["object", "null"],
      "properties": {
        "approach": {"type": ["string", "null"]},
        "phases": {
          "type": ["object", "null"],
          "additionalProperties": {"$ref": "#/definitions/entry"}
        },
        "replication_targets": {"$ref": "#/definitions/entries"},
        "quality_standards": {"$ref": "#/definitions/entries"}
      }
    },
    "working_principles": {
      "type": ["object", "null"],
      "properties": {
        "code_quality": {"$ref": "#/definitions/entries"},
        "project_structure": {"$ref": "#/definitions/entries"},
        "development_workflow": {"$ref": "#/definitions/entries"}
      }
    },
    "interaction_guidelines": {
      "type": ["object", "null"],
      "properties": {
        "when_invoked": {"$ref": "#/definitions/entries"},
        "communication": {"$ref": "#/definitions/entries"}
      }
    },
    "success_metrics": {
      "type": ["object", "null"],
      "properties": {
        "metrics": {"$ref": "#/definitions/entries"}
      }
    },
    "limitations_and_boundaries": {
      "type": ["object", "null"],
      "properties": {
        "limitations": {"$ref": "#/definitions/entries"}
      }
    }
  },
  "definitions": {
    "entry": {"type": ["string", "number", "boolean", "null"]},
    "entries": {
      "type": ["array", "null"],
      "items": {"$ref": "#/definitions/entry"}
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(agentSchema)

// requiredOrder ranks required identity fields when several are missing.
var requiredOrder = map[string]int{"name": 0, "description": 1}

// validateSchema checks the agent mapping and reports the first offending
// field as a CONFIG_VALIDATION error.
func validateSchema(agent map[string]interface{}, source string) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(agent))
	if err != nil {
		return errors.New(errors.CodeConfigValidation, fmt.Sprintf("cannot validate configuration from %s", source), err).
			WithContext("field", "agent").
			WithContext("source", source)
	}
	if result.Valid() {
		return nil
	}

	type issue struct {
		field    string
		reason   string
		required bool
	}
	issues := make([]issue, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		if re.Type() == "required" {
			prop, _ := re.Details()["property"].(string)
			issues = append(issues, issue{field: joinField(re.Field(), prop), reason: "field required", required: true})
			continue
		}
		issues = append(issues, issue{field: joinField(re.Field(), ""), reason: re.Description()})
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].required != issues[j].required {
			return issues[i].required
		}
		ri, okI := requiredOrder[issues[i].field]
		rj, okJ := requiredOrder[issues[j].field]
		if okI && okJ {
			return ri < rj
		}
		return issues[i].field < issues[j].field
	})

	first := issues[0]
	return errors.ConfigValidation(source, first.field, first.reason)
}

// joinField converts gojsonschema field paths to dotted config keys.
func joinField(field, prop string) string {
	if field == "(root)" {
		field = ""
	}
	switch {
	case field == "":
		return prop
	case prop == "":
		return field
	default:
		return field + "." + prop
	}
}

// normalize rewrites accepted shorthand forms into the canonical shape the
// schema and decoder expect. It returns a new map.
func normalize(agent map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(agent))
	for k, v := range agent {
		out[k] = v
	}

	if s, ok := out["max_iterations"].(string); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			out["max_iterations"] = n
		}
	}

	// success_metrics: [..] and limitations_and_boundaries: [..]
	for key, sub := range map[string]string{
		"success_metrics":            "metrics",
		"limitations_and_boundaries": "limitations",
	} {
		if list, ok := out[key].([]interface{}); ok {
			out[key] = map[string]interface{}{sub: list}
		}
	}

	// core_objectives.primary_goal: "..."
	if obj, ok := out["core_objectives"].(map[string]interface{}); ok {
		if goal, ok := obj["primary_goal"].(string); ok {
			obj = copyMap(obj)
			if _, has := obj["primary_goals"]; !has {
				obj["primary_goals"] = []interface{}{goal}
			}
			delete(obj, "primary_goal")
			out["core_objectives"] = obj
		}
	}

	// capabilities.programming_languages: {primary: .., secondary: [..]}
	if caps, ok := out["capabilities"].(map[string]interface{}); ok {
		if langs, ok := caps["programming_languages"].(map[string]interface{}); ok {
			caps = copyMap(caps)
			caps["programming_languages"] = flattenLanguages(langs)
			out["capabilities"] = caps
		}
	}

	return out
}

func flattenLanguages(langs map[string]interface{}) []interface{} {
	var out []interface{}
	add := func(v interface{}) {
		switch t := v.(type) {
		case []interface{}:
			out = append(out, t...)
		case nil:
		default:
			out = append(out, t)
		}
	}
	add(langs["primary"])
	add(langs["secondary"])

	rest := make([]string, 0, len(langs))
	for k := range langs {
		if k != "primary" && k != "secondary" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		add(langs[k])
	}
	return out
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
