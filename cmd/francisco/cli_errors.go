// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/francisco-agent/francisco/pkg/errors"
)

// hintFor returns a short remedy for well-known error codes.
func hintFor(ae *errors.AgentError) string {
	switch ae.Code {
	case errors.CodeMissingCredential:
		return fmt.Sprintf("export %s or pass --api-key", ae.Source())
	case errors.CodeConfigSyntax:
		return "check that the configuration file exists and is valid YAML"
	case errors.CodeConfigValidation:
		if field := ae.Field(); field != "" {
			return fmt.Sprintf("fix the %q field in %s", field, ae.Source())
		}
		return "check the configuration values"
	case errors.CodeTemplateNotFound, errors.CodeTemplateRead:
		return "check prompt_file in the configuration"
	case errors.CodeTemplateSlot:
		return "template slots must be one of the configuration section names"
	}
	return ""
}

// printError writes err to w, followed by a hint for known AgentError
// codes.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	var ae *errors.AgentError
	if !errors.As(err, &ae) {
		return
	}
	if hint := hintFor(ae); hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
}
