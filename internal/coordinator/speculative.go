// Speculative request lifecycle: None → Pending → {Cancelled,
// Completed→Reused, Completed→Discarded}.
package coordinator

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/compresr/nextedit/internal/backend"
	"github.com/compresr/nextedit/internal/document"
	"github.com/compresr/nextedit/internal/monitoring"
)

// speculativeEntry is a pending backend call keyed by the predicted
// post-edit fingerprint. The coordinator owns its cancellation handle and
// its eventual result.
type speculativeEntry struct {
	docID       document.ID
	fingerprint string
	base        string // uuid shared by the spec_/spch_ request ids
	cancel      context.CancelFunc

	// done is closed exactly once, after result is set.
	done   chan struct{}
	result *specResult

	// adopted is set under the coordinator mutex when a request claims the
	// entry, so a completion racing with adoption cannot publish to the cache
	// afterwards.
	adopted bool
}

// specResult is the outcome of a speculative call, retained for promotion.
type specResult struct {
	docID        document.ID
	base         string
	snapshot     *document.Snapshot // predicted post-edit snapshot
	reqCtx       RequestContext
	edit         *document.Edit
	terminal     backend.Terminal
	promptTokens int
	docs         []document.ID
}

func specKey(docID document.ID, fingerprint string) string {
	return string(docID) + "/" + fingerprint
}

func hitRequestID(base string) string { return "spch_" + base }

func joinRequestID(base string) string { return "spec_" + base }

// adopt promotes a matching speculative entry into the served suggestion.
// An already-completed entry is a cache hit; an in-flight one is joined and
// its completion awaited.
func (c *Coordinator) adopt(ctx context.Context, docID document.ID, e *speculativeEntry, start time.Time) (*Suggestion, error) {
	c.mu.Lock()
	e.adopted = true
	c.mu.Unlock()

	completed := false
	select {
	case <-e.done:
		completed = true
	default:
	}

	kind := monitoring.ReuseSpeculative
	id := joinRequestID(e.base)
	if completed {
		kind = monitoring.ReuseCacheHit
		id = hitRequestID(e.base)
	}

	if !completed {
		select {
		case <-e.done:
		case <-ctx.Done():
			e.cancel()
			s := &Suggestion{
				DocID:     docID,
				Reason:    GotCancelled,
				Telemetry: Telemetry{RequestID: id, Reuse: kind, Latency: time.Since(start)},
			}
			c.record(s)
			return s, nil
		}
	}

	// A completion that ran before this adoption already published to the
	// cache; drop that copy so the result is served once.
	c.cache.Delete(specKey(docID, e.fingerprint))

	s := c.fromResult(docID, e.result, id, kind, start)
	c.record(s)
	return s, nil
}

// fromResult converts a speculative outcome into a served suggestion.
func (c *Coordinator) fromResult(docID document.ID, res *specResult, id string, kind monitoring.ReuseKind, start time.Time) *Suggestion {
	s := &Suggestion{
		DocID:    docID,
		Snapshot: res.snapshot,
		reqCtx:   res.reqCtx,
		Telemetry: Telemetry{
			RequestID:    id,
			Reuse:        kind,
			PromptTokens: res.promptTokens,
			DocsInPrompt: res.docs,
			Latency:      time.Since(start),
		},
	}
	switch {
	case res.terminal.Reason == backend.ReasonCancelled:
		s.Reason = GotCancelled
	case res.terminal.Reason == backend.ReasonError:
		s.Reason = BackendFailure
		s.Message = res.terminal.Message
	case res.edit != nil:
		s.Edit = res.edit
	default:
		s.Reason = NoSuggestions
	}
	return s
}

// runSpeculative executes the pre-issued backend call against the predicted
// snapshot and publishes the result.
func (c *Coordinator) runSpeculative(ctx context.Context, e *speculativeEntry, predicted *document.Snapshot, shown *Suggestion) {
	rc := shown.reqCtx
	rc.Snapshot = predicted
	rc.Cursor = postEditCursor(*shown.Edit)

	req, tokens, docs := c.buildRequest(joinRequestID(e.base), shown.DocID, rc)
	res := &specResult{
		docID:        shown.DocID,
		base:         e.base,
		snapshot:     predicted,
		reqCtx:       rc,
		promptTokens: tokens,
		docs:         docs,
	}

	events, err := c.backend.ProvideNextEdit(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			res.terminal = backend.Terminal{Reason: backend.ReasonCancelled}
		} else {
			res.terminal = backend.Terminal{Reason: backend.ReasonError, Message: err.Error()}
		}
		c.completeSpeculative(e, res)
		return
	}

	res.edit, res.terminal = awaitFirst(ctx, events)
	c.completeSpeculative(e, res)
}

// completeSpeculative publishes the result. A completion arriving after
// cancellation was requested is tolerated: the entry simply never reaches
// the cache and the slot is cleared if it still holds the entry.
func (c *Coordinator) completeSpeculative(e *speculativeEntry, res *specResult) {
	c.mu.Lock()
	e.result = res
	close(e.done)
	if res.terminal.Reason == backend.ReasonCancelled && c.spec == e {
		c.spec = nil
	}
	if res.terminal.Reason != backend.ReasonCancelled && !e.adopted {
		// Unclaimed completions land in the TTL cache so a request shortly
		// after the slot moved on can still hit them. An adopted entry never
		// reaches the cache: its result is already being served.
		c.cache.Set(specKey(e.docID, e.fingerprint), res, ttlcache.DefaultTTL)
	}
	c.mu.Unlock()
}

// awaitFirst reads the stream until the first edit or the terminal event.
// Once an edit is taken, the rest of the stream is drained in the
// background so the backend goroutine always finishes.
func awaitFirst(ctx context.Context, events <-chan backend.Event) (*document.Edit, backend.Terminal) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, backend.Terminal{Reason: backend.ReasonError, Message: "stream closed without terminal"}
			}
			if ev.Terminal != nil {
				return nil, *ev.Terminal
			}
			if ev.Edit != nil {
				go drain(events)
				return ev.Edit, backend.Terminal{Reason: backend.ReasonDone}
			}
		case <-ctx.Done():
			go drain(events)
			return nil, backend.Terminal{Reason: backend.ReasonCancelled}
		}
	}
}

func drain(events <-chan backend.Event) {
	for range events {
	}
}

// postEditCursor predicts where the cursor lands after the edit is applied:
// the end of the last inserted run.
func postEditCursor(e document.Edit) document.Position {
	if len(e.Replacements) == 0 {
		return document.Position{}
	}
	delta := 0
	for _, r := range e.Replacements[:len(e.Replacements)-1] {
		delta += r.LineDelta()
	}
	last := e.Replacements[len(e.Replacements)-1]
	line := last.Range.Start + delta
	char := 0
	if n := len(last.NewLines); n > 0 {
		line += n - 1
		char = len(last.NewLines[n-1])
	}
	return document.Position{Line: line, Character: char}
}
