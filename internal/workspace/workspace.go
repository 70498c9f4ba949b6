// Package workspace exposes read-only editor state to the prediction
// pipeline.
//
// DESIGN: The core only reads snapshots, selections, and history; edits are
// applied by the editor integration after a suggestion is accepted.
// Notifications use explicit subscription handles owned by the caller, with
// teardown guaranteed on every exit path.
package workspace

import (
	"sync"
	"time"

	"github.com/compresr/nextedit/internal/document"
)

// EventKind classifies a workspace notification.
type EventKind string

const (
	// DocChanged fires when a document snapshot advanced.
	DocChanged EventKind = "changed"
	// DocViewed fires when a document's visible ranges were recorded.
	DocViewed EventKind = "viewed"
)

// Event is one workspace notification.
type Event struct {
	Kind     EventKind
	DocID    document.ID
	Snapshot *document.Snapshot
}

// Workspace is the read-only view consumed by the coordinator and budgeter.
type Workspace interface {
	Snapshot(id document.ID) (*document.Snapshot, bool)
	Selection(id document.ID) (document.Position, bool)
	History(id document.ID) *document.History
	RecentlyViewed(limit int) []document.ID // most recent last
	Subscribe(fn func(Event)) *Subscription
}

// Subscription is the caller-owned handle for a notification stream.
// Close is idempotent and safe on every exit path.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Memory is the in-process workspace fed by the editor integration.
type Memory struct {
	mu         sync.RWMutex
	historyCap int

	snapshots  map[document.ID]*document.Snapshot
	selections map[document.ID]document.Position
	histories  map[document.ID]*document.History
	viewOrder  []document.ID // most recent last

	nextSub int
	subs    map[int]func(Event)
}

// NewMemory creates an empty workspace. historyCap bounds each document's
// history length.
func NewMemory(historyCap int) *Memory {
	return &Memory{
		historyCap: historyCap,
		snapshots:  make(map[document.ID]*document.Snapshot),
		selections: make(map[document.ID]document.Position),
		histories:  make(map[document.ID]*document.History),
		subs:       make(map[int]func(Event)),
	}
}

// Open registers a document at its initial snapshot.
func (m *Memory) Open(uri, text string) *document.Snapshot {
	snap := document.NewSnapshot(uri, text)
	m.mu.Lock()
	m.snapshots[snap.DocID] = snap
	if _, ok := m.histories[snap.DocID]; !ok {
		m.histories[snap.DocID] = document.NewHistory(m.historyCap)
	}
	m.touchLocked(snap.DocID)
	m.mu.Unlock()
	return snap
}

// ApplyEdit advances a document to its post-edit snapshot and appends the
// corresponding history entry.
func (m *Memory) ApplyEdit(id document.ID, edit document.Edit) (*document.Snapshot, bool) {
	m.mu.Lock()
	before, ok := m.snapshots[id]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	after := before.Apply(edit)
	m.snapshots[id] = after
	m.histories[id].Append(document.EditEntry{Before: before, Edit: edit, At: time.Now()})
	m.touchLocked(id)
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs, Event{Kind: DocChanged, DocID: id, Snapshot: after})
	return after, true
}

// SetSelection records the current cursor/selection position.
func (m *Memory) SetSelection(id document.ID, pos document.Position) {
	m.mu.Lock()
	m.selections[id] = pos
	m.mu.Unlock()
}

// RecordVisibleRanges appends a visible-ranges history entry.
func (m *Memory) RecordVisibleRanges(id document.ID, ranges []document.LineRange) {
	m.mu.Lock()
	snap, ok := m.snapshots[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.histories[id].Append(document.VisibleRangesEntry{Snapshot: snap, Ranges: ranges, At: time.Now()})
	m.touchLocked(id)
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs, Event{Kind: DocViewed, DocID: id, Snapshot: snap})
}

// Snapshot implements Workspace.
func (m *Memory) Snapshot(id document.ID) (*document.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	return s, ok
}

// Selection implements Workspace.
func (m *Memory) Selection(id document.ID) (document.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.selections[id]
	return p, ok
}

// History implements Workspace.
func (m *Memory) History(id document.ID) *document.History {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.histories[id]
}

// RecentlyViewed implements Workspace.
func (m *Memory) RecentlyViewed(limit int) []document.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order := m.viewOrder
	if limit > 0 && len(order) > limit {
		order = order[len(order)-limit:]
	}
	out := make([]document.ID, len(order))
	copy(out, order)
	return out
}

// Subscribe registers a notification callback and returns its handle.
func (m *Memory) Subscribe(fn func(Event)) *Subscription {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return &Subscription{cancel: func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}}
}

func (m *Memory) touchLocked(id document.ID) {
	for i, d := range m.viewOrder {
		if d == id {
			m.viewOrder = append(m.viewOrder[:i], m.viewOrder[i+1:]...)
			break
		}
	}
	m.viewOrder = append(m.viewOrder, id)
}

func (m *Memory) subscribersLocked() []func(Event) {
	out := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Event), e Event) {
	for _, fn := range subs {
		fn(e)
	}
}
