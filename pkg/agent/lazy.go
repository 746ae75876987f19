// SPDX-License-Identifier: Apache-2.0

package agent

import "sync"

// Lazy builds an Agent on first use. Concurrent callers share a single
// construction; its result, including an error, is kept for the life of
// the Lazy.
type Lazy struct {
	get func() (*Agent, error)
}

// NewLazy returns a Lazy that calls build at most once.
func NewLazy(build func() (*Agent, error)) *Lazy {
	return &Lazy{get: sync.OnceValues(build)}
}

// Get returns the agent, building it if needed.
func (l *Lazy) Get() (*Agent, error) {
	return l.get()
}
