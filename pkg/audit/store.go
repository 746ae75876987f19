// Package audit records agent invocations.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Invocation statuses.
const (
	StatusOK    = "ok"
	StatusEmpty = "empty"
	StatusError = "error"
)

// Event is one recorded invocation.
type Event struct {
	ID         string
	Agent      string
	Model      string
	Input      string
	Context    map[string]any
	Output     string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the invocation took.
func (e Event) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store persists invocation events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits event queries. Zero fields match everything.
type Filter struct {
	Agent  string
	Status string
	Limit  int
}

func (f Filter) match(ev Event) bool {
	if f.Agent != "" && ev.Agent != f.Agent {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	return true
}

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered events in insertion order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodeContext(extra map[string]any) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeContext(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeTime ensures timestamps are in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
