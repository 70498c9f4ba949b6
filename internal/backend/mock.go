package backend

import (
	"context"
	"sync"
	"time"
)

// Mock is a scripted in-memory backend for tests and local development.
// Each call replays the script with an optional per-event delay, terminating
// early with ReasonCancelled when the context is cancelled.
type Mock struct {
	mu        sync.Mutex
	Delay     time.Duration
	Script    func(req *Request) []Event
	calls     []*Request
	cancelled map[string]bool
}

// NewMock creates a mock whose script returns the given events for every
// request.
func NewMock(events ...Event) *Mock {
	return &Mock{
		Script:    func(*Request) []Event { return events },
		cancelled: make(map[string]bool),
	}
}

// ProvideNextEdit implements PredictionBackend.
func (m *Mock) ProvideNextEdit(ctx context.Context, req *Request) (<-chan Event, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	if m.cancelled == nil {
		m.cancelled = make(map[string]bool)
	}
	script := m.Script(req)
	delay := m.Delay
	m.mu.Unlock()

	out := make(chan Event, len(script)+1)
	go func() {
		defer close(out)
		for _, e := range script {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					m.markCancelled(req.ID)
					out <- Event{Terminal: &Terminal{Reason: ReasonCancelled}}
					return
				}
			}
			select {
			case out <- e:
			case <-ctx.Done():
				m.markCancelled(req.ID)
				out <- Event{Terminal: &Terminal{Reason: ReasonCancelled}}
				return
			}
			if e.Terminal != nil {
				return
			}
		}
		out <- Event{Terminal: &Terminal{Reason: ReasonDone}}
	}()
	return out, nil
}

// SetDelay changes the per-event delay for subsequent calls.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Delay = d
}

func (m *Mock) markCancelled(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[id] = true
}

// Calls returns the requests seen so far.
func (m *Mock) Calls() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// WasCancelled reports whether the request observed cancellation.
func (m *Mock) WasCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[id]
}
