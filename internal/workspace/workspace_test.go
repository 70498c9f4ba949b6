package workspace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/nextedit/internal/document"
	"github.com/compresr/nextedit/internal/workspace"
)

func TestMemory_OpenAndSnapshot(t *testing.T) {
	m := workspace.NewMemory(8)

	snap := m.Open("file:///a.go", "a\nb")

	got, ok := m.Snapshot(snap.DocID)
	require.True(t, ok)
	assert.Equal(t, "a\nb", got.Text)

	_, ok = m.Snapshot("nope")
	assert.False(t, ok)
}

func TestMemory_ApplyEditAdvancesSnapshotAndHistory(t *testing.T) {
	m := workspace.NewMemory(8)
	snap := m.Open("file:///a.go", "a\nb\nc")

	after, ok := m.ApplyEdit(snap.DocID, document.Single(1, 2, "B"))
	require.True(t, ok)
	assert.Equal(t, "a\nB\nc", after.Text)

	got, _ := m.Snapshot(snap.DocID)
	assert.Equal(t, after.Text, got.Text)

	h := m.History(snap.DocID)
	require.NotNil(t, h)
	entries := h.EditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "a\nb\nc", entries[0].Before.Text)
}

func TestMemory_ApplyEditUnknownDocument(t *testing.T) {
	m := workspace.NewMemory(8)

	_, ok := m.ApplyEdit("missing", document.Single(0, 1, "x"))
	assert.False(t, ok)
}

func TestMemory_RecentlyViewedOrder(t *testing.T) {
	m := workspace.NewMemory(8)
	a := m.Open("file:///a.go", "a")
	b := m.Open("file:///b.go", "b")

	// Touching a again moves it to most-recent.
	_, ok := m.ApplyEdit(a.DocID, document.Single(0, 1, "a2"))
	require.True(t, ok)

	assert.Equal(t, []document.ID{b.DocID, a.DocID}, m.RecentlyViewed(0))
	assert.Equal(t, []document.ID{a.DocID}, m.RecentlyViewed(1))
}

func TestMemory_SubscriptionLifecycle(t *testing.T) {
	m := workspace.NewMemory(8)
	snap := m.Open("file:///a.go", "a")

	var events []workspace.Event
	sub := m.Subscribe(func(e workspace.Event) { events = append(events, e) })

	m.ApplyEdit(snap.DocID, document.Single(0, 1, "b"))
	require.Len(t, events, 1)
	assert.Equal(t, workspace.DocChanged, events[0].Kind)
	assert.Equal(t, snap.DocID, events[0].DocID)

	m.RecordVisibleRanges(snap.DocID, []document.LineRange{{Start: 0, End: 1}})
	require.Len(t, events, 2)
	assert.Equal(t, workspace.DocViewed, events[1].Kind)

	// After Close no more notifications arrive; double Close is safe.
	sub.Close()
	sub.Close()
	m.ApplyEdit(snap.DocID, document.Single(0, 1, "c"))
	assert.Len(t, events, 2)
}

func TestMemory_SelectionRoundTrip(t *testing.T) {
	m := workspace.NewMemory(8)
	snap := m.Open("file:///a.go", "a\nb")

	_, ok := m.Selection(snap.DocID)
	assert.False(t, ok)

	m.SetSelection(snap.DocID, document.Position{Line: 1, Character: 3})
	pos, ok := m.Selection(snap.DocID)
	require.True(t, ok)
	assert.Equal(t, document.Position{Line: 1, Character: 3}, pos)
}
