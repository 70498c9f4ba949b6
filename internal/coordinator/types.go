// Package coordinator - types.go defines the suggestion result model.
package coordinator

import (
	"time"

	"github.com/compresr/nextedit/internal/budget"
	"github.com/compresr/nextedit/internal/document"
	"github.com/compresr/nextedit/internal/monitoring"
)

// NoSuggestionReason is the closed taxonomy of "no suggestion" outcomes.
type NoSuggestionReason string

const (
	// NoSuggestions: the backend produced nothing usable.
	NoSuggestions NoSuggestionReason = "no_suggestions"
	// GotCancelled: cancellation was observed. Not a failure.
	GotCancelled NoSuggestionReason = "got_cancelled"
	// BackendFailure: an opaque backend/network failure. Never retried by
	// the core; the caller decides whether to re-request.
	BackendFailure NoSuggestionReason = "backend_failure"
)

// IgnoreReason says why a suggestion was ignored.
type IgnoreReason string

const (
	// IgnoredSuperseded: a newer suggestion replaced this one before the
	// user reacted. Does not cancel speculative work.
	IgnoredSuperseded IgnoreReason = "superseded"
	// IgnoredDismissed: the user moved on from a shown suggestion.
	IgnoredDismissed IgnoreReason = "dismissed"
	// IgnoredTimeout: the suggestion expired unanswered.
	IgnoredTimeout IgnoreReason = "timeout"
)

// Telemetry is the per-suggestion record handed to the caller and the sink.
type Telemetry struct {
	RequestID    string
	Reuse        monitoring.ReuseKind
	PromptTokens int
	DocsInPrompt []document.ID
	Latency      time.Duration
}

// Suggestion is the result of GetNextEdit. Either Edit is set, or Reason
// explains why there is nothing to show. The caller owns it after handoff;
// the coordinator keeps only cache/reuse bookkeeping.
type Suggestion struct {
	DocID document.ID

	// Snapshot the edit was computed against. The edit range always lies
	// within it.
	Snapshot *document.Snapshot
	Edit     *document.Edit

	Reason  NoSuggestionReason // set when Edit is nil
	Message string             // failure detail for BackendFailure

	Telemetry Telemetry

	// reqCtx is retained so HandleShown can rebuild context against the
	// predicted post-edit snapshot without consulting the caller again.
	reqCtx RequestContext
}

// HasEdit reports whether the suggestion carries an edit to show.
func (s *Suggestion) HasEdit() bool { return s != nil && s.Edit != nil }

// RequestContext is everything the caller supplies per GetNextEdit call.
// Treated as an immutable value for the duration of the request.
type RequestContext struct {
	Snapshot    *document.Snapshot
	Cursor      document.Position
	History     *document.History
	ViewedFiles []budget.ViewedFile // most recent last
	Options     budget.PromptOptions
}
