// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/francisco-agent/francisco/pkg/errors"
	"github.com/francisco-agent/francisco/pkg/runtime"
)

// WrapRuntimeError wraps a runtime failure with the model and invocation id.
func WrapRuntimeError(err error, model, invocationID string) *errors.AgentError {
	if err == nil {
		return nil
	}
	ae := errors.RuntimeInvocation(model, err)
	if invocationID != "" {
		ae = ae.WithContext("invocation_id", invocationID)
	}
	if errors.Is(err, runtime.ErrMaxTurnsExceeded) {
		ae = ae.WithRecoverable(false)
	}
	return ae
}

// ErrorResponse is the reply returned to callers for a failed invocation.
// It carries the runtime cause text, not the wrapper message.
func ErrorResponse(err error) string {
	if err == nil {
		return ""
	}
	var ae *errors.AgentError
	if errors.As(err, &ae) && ae.Code == errors.CodeRuntimeInvocation && ae.Err != nil {
		err = ae.Err
	}
	return ErrorResponsePrefix + err.Error()
}

// IsMissingCredential reports whether err means no API key was available.
func IsMissingCredential(err error) bool {
	return errors.HasCode(err, errors.CodeMissingCredential)
}
