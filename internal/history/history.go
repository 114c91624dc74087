// Package history keeps the recent-trace list served by the config and
// traces endpoints. The in-memory ring is always available; a database
// archive can be layered behind it with Tee.
package history

import (
	"context"
	"sync"

	"github.com/nidhogg/agent-studio/internal/orchestrator"
)

// Sink receives completed traces and serves the recent ones,
// newest first.
type Sink interface {
	Append(ctx context.Context, t *orchestrator.Trace) error
	Recent(ctx context.Context, limit int) ([]*orchestrator.Trace, error)
}

// DefaultLimit caps the recent-history list.
const DefaultLimit = 50

// Memory is a bounded in-memory trace list.
type Memory struct {
	mu     sync.Mutex
	traces []*orchestrator.Trace
	cap    int
}

// NewMemory creates a Memory sink holding at most cap traces.
func NewMemory(cap int) *Memory {
	if cap <= 0 {
		cap = DefaultLimit
	}
	return &Memory{cap: cap}
}

// Append prepends the trace, evicting the oldest past capacity.
func (m *Memory) Append(_ context.Context, t *orchestrator.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append([]*orchestrator.Trace{t}, m.traces...)
	if len(m.traces) > m.cap {
		m.traces = m.traces[:m.cap]
	}
	return nil
}

// Recent returns up to limit traces, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]*orchestrator.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.traces) {
		limit = len(m.traces)
	}
	out := make([]*orchestrator.Trace, limit)
	copy(out, m.traces[:limit])
	return out, nil
}

// Tee appends to every sink and reads from the first sink holding any
// traces, so a durable archive behind an empty ring still serves
// history after a restart.
type Tee []Sink

// Append fans the trace out to all sinks, returning the first error.
func (t Tee) Append(ctx context.Context, tr *orchestrator.Trace) error {
	var firstErr error
	for _, s := range t {
		if err := s.Append(ctx, tr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recent returns the first non-empty sink's traces.
func (t Tee) Recent(ctx context.Context, limit int) ([]*orchestrator.Trace, error) {
	var firstErr error
	for _, s := range t {
		traces, err := s.Recent(ctx, limit)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(traces) > 0 {
			return traces, nil
		}
	}
	return nil, firstErr
}
