// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy used by Francisco.
//
// Construction-time faults (configuration, template and credential errors)
// propagate to the caller. RUNTIME_INVOCATION errors are produced at the
// invocation boundary and are converted to a string response there.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode classifies Francisco errors for logging and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeConfigSyntax indicates the configuration source could not be read or parsed.
	CodeConfigSyntax ErrorCode = "CONFIG_SYNTAX"

	// CodeConfigValidation indicates the source parsed but a field is missing or invalid.
	CodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// CodeTemplateNotFound indicates the prompt template resource does not exist.
	CodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"

	// CodeTemplateRead indicates the template exists but could not be read.
	CodeTemplateRead ErrorCode = "TEMPLATE_READ"

	// CodeTemplateSlot indicates a template references a slot the configuration does not expose.
	CodeTemplateSlot ErrorCode = "TEMPLATE_SLOT"

	// CodeMissingCredential indicates no API credential was available at construction.
	CodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"

	// CodeRuntimeInvocation indicates the agent runtime failed during a call.
	CodeRuntimeInvocation ErrorCode = "RUNTIME_INVOCATION"
)

// AgentError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type AgentError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AgentError with the same code.
func (e *AgentError) Is(target error) bool {
	other, ok := target.(*AgentError)
	if !ok {
		return false
	}
	return other.Code == e.Code && other.Message == ""
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *AgentError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new AgentError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *AgentError {
	return &AgentError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *AgentError) WithContext(key string, value interface{}) *AgentError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *AgentError) WithRecoverable(recoverable bool) *AgentError {
	e.Recoverable = recoverable
	return e
}

// Field returns the offending field recorded on the error, if any.
func (e *AgentError) Field() string {
	s, _ := e.Context["field"].(string)
	return s
}

// Source returns the source locator recorded on the error, if any.
func (e *AgentError) Source() string {
	s, _ := e.Context["source"].(string)
	return s
}

// Sentinel values usable with errors.Is.
var (
	ErrConfigSyntax      = &AgentError{Code: CodeConfigSyntax}
	ErrConfigValidation  = &AgentError{Code: CodeConfigValidation}
	ErrTemplateNotFound  = &AgentError{Code: CodeTemplateNotFound}
	ErrTemplateRead      = &AgentError{Code: CodeTemplateRead}
	ErrTemplateSlot      = &AgentError{Code: CodeTemplateSlot}
	ErrMissingCredential = &AgentError{Code: CodeMissingCredential}
	ErrRuntimeInvocation = &AgentError{Code: CodeRuntimeInvocation}
)

// ConfigSyntax reports an unreadable or unparsable configuration source.
func ConfigSyntax(source string, cause error) *AgentError {
	return New(CodeConfigSyntax, fmt.Sprintf("cannot parse configuration source %s", source), cause).
		WithContext("field", "agent").
		WithContext("source", source)
}

// ConfigValidation reports a missing or invalid configuration field.
func ConfigValidation(source, field, reason string) *AgentError {
	return New(CodeConfigValidation, fmt.Sprintf("invalid field %q in %s: %s", field, source, reason), nil).
		WithContext("field", field).
		WithContext("source", source)
}

// TemplateNotFound reports a prompt template that does not exist.
func TemplateNotFound(path string, cause error) *AgentError {
	return New(CodeTemplateNotFound, fmt.Sprintf("prompt template file not found: %s", path), cause).
		WithContext("field", "prompt_file").
		WithContext("source", path)
}

// TemplateRead reports a prompt template that exists but cannot be read.
func TemplateRead(path string, cause error) *AgentError {
	return New(CodeTemplateRead, fmt.Sprintf("error reading prompt template from %s", path), cause).
		WithContext("field", "prompt_file").
		WithContext("source", path)
}

// TemplateSlot reports template slots unknown to the configuration.
func TemplateSlot(source string, slots []string) *AgentError {
	return New(CodeTemplateSlot, fmt.Sprintf("template %s references unknown slot(s): %s", source, strings.Join(slots, ", ")), nil).
		WithContext("field", strings.Join(slots, ",")).
		WithContext("source", source)
}

// TemplateSlotsMissing reports registry slots a template does not define.
func TemplateSlotsMissing(source string, slots []string) *AgentError {
	return New(CodeTemplateSlot, fmt.Sprintf("template %s is missing slot(s): %s", source, strings.Join(slots, ", ")), nil).
		WithContext("field", strings.Join(slots, ",")).
		WithContext("source", source)
}

// MissingCredential reports that no API credential was available.
func MissingCredential(envVar string) *AgentError {
	return New(CodeMissingCredential,
		fmt.Sprintf("API key is required. Set %s environment variable or pass an API key", envVar), nil).
		WithContext("field", "api_key").
		WithContext("source", envVar)
}

// RuntimeInvocation wraps a failure raised by the agent runtime.
func RuntimeInvocation(model string, cause error) *AgentError {
	return New(CodeRuntimeInvocation, "agent runtime call failed", cause).
		WithContext("model", model).
		WithRecoverable(true)
}

// AsAgentError attempts to convert an error to an AgentError.
// Returns the error as AgentError if it is one, or wraps it otherwise.
func AsAgentError(err error) *AgentError {
	if err == nil {
		return nil
	}
	var ae *AgentError
	if stderrors.As(err, &ae) {
		return ae
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var ae *AgentError
	for err != nil {
		if stderrors.As(err, &ae) {
			if ae.Code == code {
				return true
			}
			err = ae.Err
			continue
		}
		return false
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *AgentError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
