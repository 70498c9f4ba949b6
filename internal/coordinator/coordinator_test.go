package coordinator_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/nextedit/internal/backend"
	"github.com/compresr/nextedit/internal/budget"
	"github.com/compresr/nextedit/internal/coordinator"
	"github.com/compresr/nextedit/internal/document"
	"github.com/compresr/nextedit/internal/monitor"
	"github.com/compresr/nextedit/internal/monitoring"
)

func newCoordinator(t *testing.T, mock *backend.Mock) *coordinator.Coordinator {
	t.Helper()
	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{})
	require.NoError(t, err)
	c := coordinator.New(
		coordinator.Config{SpeculativeEnabled: true},
		mock,
		budget.HeuristicCounter(4),
		monitor.New(monitor.Config{}),
		tracker,
	)
	t.Cleanup(c.Close)
	return c
}

func requestContext(snap *document.Snapshot, cursorLine int) coordinator.RequestContext {
	return coordinator.RequestContext{
		Snapshot: snap,
		Cursor:   document.Position{Line: cursorLine},
	}
}

func editEvent(start, end int, lines ...string) backend.Event {
	e := document.Single(start, end, lines...)
	return backend.Event{Edit: &e}
}

func terminalEvent(reason backend.Reason) backend.Event {
	return backend.Event{Terminal: &backend.Terminal{Reason: reason}}
}

func TestGetNextEdit_FreshRequest(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "fixed"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	s, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	require.True(t, s.HasEdit())
	assert.Equal(t, document.Single(1, 2, "fixed"), *s.Edit)
	assert.True(t, strings.HasPrefix(s.Telemetry.RequestID, "nes_"))
	assert.Equal(t, monitoring.ReuseFresh, s.Telemetry.Reuse)
	assert.Equal(t, []document.ID{snap.DocID}, s.Telemetry.DocsInPrompt)
	assert.Greater(t, s.Telemetry.PromptTokens, 0)
}

func TestGetNextEdit_NoSuggestions(t *testing.T) {
	mock := backend.NewMock(terminalEvent(backend.ReasonNoSuggestions))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nb")
	s, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 0))
	require.NoError(t, err)

	assert.False(t, s.HasEdit())
	assert.Equal(t, coordinator.NoSuggestions, s.Reason)
}

func TestGetNextEdit_BackendFailureNotRetried(t *testing.T) {
	mock := backend.NewMock(backend.Event{Terminal: &backend.Terminal{
		Reason:  backend.ReasonError,
		Message: "upstream exploded",
	}})
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nb")
	s, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 0))
	require.NoError(t, err)

	assert.Equal(t, coordinator.BackendFailure, s.Reason)
	assert.Equal(t, "upstream exploded", s.Message)
	assert.Len(t, mock.Calls(), 1, "failures must not be retried")
}

func TestGetNextEdit_CallerCancellation(t *testing.T) {
	mock := backend.NewMock(editEvent(0, 1, "x"))
	mock.SetDelay(time.Second)
	c := newCoordinator(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	snap := document.NewSnapshot("file:///a.go", "a\nb")
	s, err := c.GetNextEdit(ctx, snap.DocID, requestContext(snap, 0))
	require.NoError(t, err)

	assert.Equal(t, coordinator.GotCancelled, s.Reason)
}

func TestGetNextEdit_WindowClampedToDocument(t *testing.T) {
	mock := backend.NewMock(terminalEvent(backend.ReasonNoSuggestions))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", strings.Repeat("line\n", 99)+"line")
	_, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 3))
	require.NoError(t, err)

	req := mock.Calls()[0]
	assert.Equal(t, 0, req.WindowStart)
	assert.Equal(t, 20, req.WindowEnd)

	_, err = c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 50))
	require.NoError(t, err)

	req = mock.Calls()[1]
	assert.Equal(t, 34, req.WindowStart)
	assert.Equal(t, 67, req.WindowEnd)
}

func TestSpeculation_JoinedWhileInFlight(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)
	require.True(t, shown.HasEdit())

	// Slow the backend down so the speculative call is still in flight
	// when the matching request arrives.
	mock.SetDelay(300 * time.Millisecond)
	c.HandleShown(shown)

	predicted := snap.Apply(*shown.Edit)
	s, err := c.GetNextEdit(context.Background(), predicted.DocID, requestContext(predicted, 1))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s.Telemetry.RequestID, "spec_"), "got %s", s.Telemetry.RequestID)
	assert.Equal(t, monitoring.ReuseSpeculative, s.Telemetry.Reuse)
	require.True(t, s.HasEdit())
	assert.Equal(t, document.Single(1, 2, "better"), *s.Edit)
	assert.Len(t, mock.Calls(), 2, "the speculative call is reused, not reissued")
}

func TestSpeculation_CacheHitAfterCompletion(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	c.HandleShown(shown)
	require.Eventually(t, func() bool { return len(mock.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond) // let the speculative result land

	predicted := snap.Apply(*shown.Edit)
	s, err := c.GetNextEdit(context.Background(), predicted.DocID, requestContext(predicted, 1))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s.Telemetry.RequestID, "spch_"), "got %s", s.Telemetry.RequestID)
	assert.Equal(t, monitoring.ReuseCacheHit, s.Telemetry.Reuse)
	assert.Len(t, mock.Calls(), 2)
}

func TestSpeculation_TypingNoiseDoesNotCancel(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	mock.SetDelay(300 * time.Millisecond)
	c.HandleShown(shown)
	require.Eventually(t, func() bool { return len(mock.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	specID := mock.Calls()[1].ID

	// The user kept typing: same document, but not the predicted state.
	diverged := snap.Apply(document.Single(0, 1, "a typed"))
	s, err := c.GetNextEdit(context.Background(), diverged.DocID, requestContext(diverged, 0))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s.Telemetry.RequestID, "nes_"))
	assert.False(t, mock.WasCancelled(specID), "same-document mutation must not cancel speculation")
}

func TestSpeculation_OtherDocumentEvictsSlot(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snapA := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snapA.DocID, requestContext(snapA, 1))
	require.NoError(t, err)

	mock.SetDelay(300 * time.Millisecond)
	c.HandleShown(shown)
	require.Eventually(t, func() bool { return len(mock.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	specID := mock.Calls()[1].ID

	mock.SetDelay(0)
	snapB := document.NewSnapshot("file:///b.go", "x\ny")
	_, err = c.GetNextEdit(context.Background(), snapB.DocID, requestContext(snapB, 0))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return mock.WasCancelled(specID) },
		time.Second, 5*time.Millisecond, "a request for another document evicts the slot")
}

func TestSpeculation_RejectionCancels(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	mock.SetDelay(300 * time.Millisecond)
	c.HandleShown(shown)
	require.Eventually(t, func() bool { return len(mock.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	specID := mock.Calls()[1].ID

	c.HandleRejection(snap.DocID, shown)

	assert.Eventually(t, func() bool { return mock.WasCancelled(specID) },
		time.Second, 5*time.Millisecond)
}

func TestSpeculation_IgnoreDismissedCancels(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	mock.SetDelay(300 * time.Millisecond)
	c.HandleShown(shown)
	require.Eventually(t, func() bool { return len(mock.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	specID := mock.Calls()[1].ID

	c.HandleIgnored(snap.DocID, shown, coordinator.IgnoredDismissed)

	assert.Eventually(t, func() bool { return mock.WasCancelled(specID) },
		time.Second, 5*time.Millisecond)
}

func TestSpeculation_IgnoreSupersededKeeps(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	mock.SetDelay(300 * time.Millisecond)
	c.HandleShown(shown)
	require.Eventually(t, func() bool { return len(mock.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	specID := mock.Calls()[1].ID

	c.HandleIgnored(snap.DocID, shown, coordinator.IgnoredSuperseded)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, mock.WasCancelled(specID), "a superseded suggestion says nothing about the trajectory")
}

func TestSpeculation_AcceptanceKeepsAndReuses(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	c := newCoordinator(t, mock)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	c.HandleShown(shown)
	c.HandleAcceptance(snap.DocID, shown)

	predicted := snap.Apply(*shown.Edit)
	s, err := c.GetNextEdit(context.Background(), predicted.DocID, requestContext(predicted, 1))
	require.NoError(t, err)

	assert.NotEqual(t, monitoring.ReuseFresh, s.Telemetry.Reuse,
		"acceptance lands on the predicted state; the speculation must be reused")
	assert.Len(t, mock.Calls(), 2)
}

func TestSpeculation_DisabledIssuesNothing(t *testing.T) {
	mock := backend.NewMock(editEvent(1, 2, "better"))
	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{})
	require.NoError(t, err)
	c := coordinator.New(coordinator.Config{}, mock, budget.HeuristicCounter(4), monitor.New(monitor.Config{}), tracker)
	t.Cleanup(c.Close)

	snap := document.NewSnapshot("file:///a.go", "a\nbroken\nc")
	shown, err := c.GetNextEdit(context.Background(), snap.DocID, requestContext(snap, 1))
	require.NoError(t, err)

	c.HandleShown(shown)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, mock.Calls(), 1)
}
