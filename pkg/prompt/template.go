// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt resolves, validates and renders system prompt templates.
//
// Templates are text/template documents whose slots are written as
// {{.slot_name}}. Every slot a template references must be declared in the
// caller's slot registry; rendering fails fast on drift instead of leaving
// a literal marker in the prompt.
package prompt

import (
	_ "embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/francisco-agent/francisco/pkg/errors"
)

// DefaultTemplateName identifies the bundled prompt template.
const DefaultTemplateName = "francisco_prompt.txt"

//go:embed templates/francisco_prompt.txt
var defaultTemplate string

// DefaultTemplate returns the bundled prompt template text.
func DefaultTemplate() string { return defaultTemplate }

// Template is a parsed prompt template together with the slots it references.
type Template struct {
	source string
	tmpl   *template.Template
	slots  []string
}

// Resolve locates the template named by promptFile and returns its text and
// a locator describing where it came from. An empty name or the default
// name selects the bundled template. Relative paths resolve against baseDir.
func Resolve(promptFile, baseDir string) (text, source string, err error) {
	if promptFile == "" || promptFile == DefaultTemplateName {
		return defaultTemplate, "embedded:" + DefaultTemplateName, nil
	}

	path := promptFile
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", path, errors.TemplateNotFound(path, err)
		}
		return "", path, errors.TemplateRead(path, err)
	}
	return string(data), path, nil
}

// Parse parses template text. source is used in error messages.
func Parse(source, text string) (*Template, error) {
	tmpl, err := template.New(filepath.Base(source)).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.New(errors.CodeTemplateSlot, fmt.Sprintf("cannot parse template %s", source), err).
			WithContext("source", source)
	}

	seen := make(map[string]bool)
	var slots []string
	for _, t := range tmpl.Templates() {
		if t.Tree == nil {
			continue
		}
		walk(t.Tree.Root, func(name string) {
			if !seen[name] {
				seen[name] = true
				slots = append(slots, name)
			}
		})
	}

	return &Template{source: source, tmpl: tmpl, slots: slots}, nil
}

// Source returns the template locator.
func (t *Template) Source() string { return t.source }

// Slots returns the slot names referenced by the template, in order of
// first appearance.
func (t *Template) Slots() []string {
	return append([]string(nil), t.slots...)
}

// Validate checks that every referenced slot is part of registry.
func (t *Template) Validate(registry []string) error {
	known := make(map[string]bool, len(registry))
	for _, name := range registry {
		known[name] = true
	}
	var unknown []string
	for _, slot := range t.slots {
		if !known[slot] {
			unknown = append(unknown, slot)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.TemplateSlot(t.source, unknown)
	}
	return nil
}

// Missing returns the registry slots the template never references,
// sorted.
func (t *Template) Missing(registry []string) []string {
	used := make(map[string]bool, len(t.slots))
	for _, slot := range t.slots {
		used[slot] = true
	}
	var missing []string
	for _, name := range registry {
		if !used[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Render substitutes values into the template. The keys of values form the
// slot registry; a referenced slot absent from it is a TEMPLATE_SLOT error.
func (t *Template) Render(values map[string]string) (string, error) {
	registry := make([]string, 0, len(values))
	for name := range values {
		registry = append(registry, name)
	}
	if err := t.Validate(registry); err != nil {
		return "", err
	}

	var b strings.Builder
	if err := t.tmpl.Execute(&b, values); err != nil {
		return "", errors.New(errors.CodeTemplateSlot, fmt.Sprintf("cannot render template %s", t.source), err).
			WithContext("source", t.source)
	}
	return b.String(), nil
}

// walk reports the first identifier of every field reference under node.
func walk(node parse.Node, visit func(string)) {
	switch n := node.(type) {
	case nil:
		return
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walk(child, visit)
		}
	case *parse.ActionNode:
		walk(n.Pipe, visit)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			walk(cmd, visit)
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			walk(arg, visit)
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			visit(n.Ident[0])
		}
	case *parse.VariableNode:
		if len(n.Ident) > 1 && n.Ident[0] == "$" {
			visit(n.Ident[1])
		}
	case *parse.ChainNode:
		walk(n.Node, visit)
	case *parse.IfNode:
		walk(n.Pipe, visit)
		walk(n.List, visit)
		walk(n.ElseList, visit)
	case *parse.RangeNode:
		// dot is rebound inside the body; only $-rooted references count there
		walk(n.Pipe, visit)
		walkRooted(n.List, visit)
		walk(n.ElseList, visit)
	case *parse.WithNode:
		walk(n.Pipe, visit)
		walkRooted(n.List, visit)
		walk(n.ElseList, visit)
	case *parse.TemplateNode:
		walk(n.Pipe, visit)
	}
}

// walkRooted visits only $-rooted references under node.
func walkRooted(node parse.Node, visit func(string)) {
	var rooted func(parse.Node)
	rooted = func(node parse.Node) {
		switch n := node.(type) {
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, child := range n.Nodes {
				rooted(child)
			}
		case *parse.ActionNode:
			rooted(n.Pipe)
		case *parse.PipeNode:
			if n == nil {
				return
			}
			for _, cmd := range n.Cmds {
				for _, arg := range cmd.Args {
					rooted(arg)
				}
			}
		case *parse.VariableNode:
			if len(n.Ident) > 1 && n.Ident[0] == "$" {
				visit(n.Ident[1])
			}
		case *parse.IfNode:
			rooted(n.Pipe)
			rooted(n.List)
			rooted(n.ElseList)
		case *parse.RangeNode:
			rooted(n.Pipe)
			rooted(n.List)
			rooted(n.ElseList)
		case *parse.WithNode:
			rooted(n.Pipe)
			rooted(n.List)
			rooted(n.ElseList)
		}
	}
	rooted(node)
}
