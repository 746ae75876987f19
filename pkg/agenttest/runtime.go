// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Package agenttest provides in-process runtimes for testing code that
// builds and invokes agents without reaching a model provider.
//
// Example usage:
//
//	rt := agenttest.NewRuntime().AddOutput("hello")
//	a, _ := agent.New(cfg, agent.WithAPIKey("test"), agent.WithRuntime(rt))
//	a.InvokeSync("hi", nil) // "hello"
//	rt.LastInput()          // "hi"
package agenttest

import (
	"context"
	"strings"
	"sync"

	"github.com/francisco-agent/francisco/pkg/llm"
	"github.com/francisco-agent/francisco/pkg/runtime"
)

// ScriptedReply is one queued answer.
type ScriptedReply struct {
	Output string
	Err    error
	Usage  llm.Usage
}

// Runtime is a runtime.Runtime whose handles answer from a script. Queued
// replies are consumed in order; once the queue is empty the echo prefix
// (when set) is prepended to the input, otherwise the default error or an
// empty output is returned.
type Runtime struct {
	mu           sync.Mutex
	replies      []ScriptedReply
	echo         string
	echoing      bool
	defaultError error
	specs        []runtime.Spec
	inputs       []string
}

// NewRuntime creates a runtime with an empty script.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Echo returns a runtime that answers prefix + input.
func Echo(prefix string) *Runtime {
	return &Runtime{echo: prefix, echoing: true}
}

// AddOutput queues a successful reply.
func (r *Runtime) AddOutput(output string) *Runtime {
	return r.AddReply(ScriptedReply{Output: output})
}

// AddError queues a failing reply.
func (r *Runtime) AddError(err error) *Runtime {
	return r.AddReply(ScriptedReply{Err: err})
}

// AddReply queues a fully configured reply.
func (r *Runtime) AddReply(reply ScriptedReply) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply)
	return r
}

// WithDefaultError sets the error returned when the script is exhausted.
func (r *Runtime) WithDefaultError(err error) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultError = err
	return r
}

// NewHandle implements runtime.Runtime.
func (r *Runtime) NewHandle(spec runtime.Spec) (runtime.Handle, error) {
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, runtime.ErrEmptyPrompt
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	return &handle{rt: r}, nil
}

// Specs returns every spec a handle was created for.
func (r *Runtime) Specs() []runtime.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runtime.Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Inputs returns every input passed to Run, in call order.
func (r *Runtime) Inputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.inputs))
	copy(out, r.inputs)
	return out
}

// LastInput returns the most recent Run input, or "".
func (r *Runtime) LastInput() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inputs) == 0 {
		return ""
	}
	return r.inputs[len(r.inputs)-1]
}

func (r *Runtime) next(input string) ScriptedReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, input)
	if len(r.replies) > 0 {
		reply := r.replies[0]
		r.replies = r.replies[1:]
		return reply
	}
	if r.echoing {
		return ScriptedReply{Output: r.echo + input}
	}
	return ScriptedReply{Err: r.defaultError}
}

type handle struct {
	rt *Runtime
}

func (h *handle) Run(ctx context.Context, input string) (*runtime.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := h.rt.next(input)
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &runtime.Result{FinalOutput: reply.Output, Turns: 1, Usage: reply.Usage}, nil
}

var _ runtime.Runtime = (*Runtime)(nil)
