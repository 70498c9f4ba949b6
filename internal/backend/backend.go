// Package backend defines the prediction backend contract: an opaque
// capability that turns a stateless request into a stream of edit events.
//
// Implementations must support cooperative cancellation through the request
// context and always finish the stream with exactly one terminal event
// before closing the channel.
package backend

import (
	"context"

	"github.com/compresr/nextedit/internal/document"
)

// Request carries everything the backend needs. Created once per call;
// never mutated after construction.
type Request struct {
	ID       string
	DocID    document.ID
	Snapshot *document.Snapshot
	Cursor   document.Position

	// Edit window: the slice of the document the model rewrites.
	WindowStart int
	WindowEnd   int

	// Assembled context sections.
	CurrentFile string
	RecentFiles string
	DiffHistory string
}

// Reason is the closed taxonomy of terminal outcomes.
type Reason string

const (
	// ReasonDone terminates a stream that produced at least one edit.
	ReasonDone Reason = "done"
	// ReasonNoSuggestions means the backend produced nothing usable.
	ReasonNoSuggestions Reason = "no_suggestions"
	// ReasonCancelled means cancellation was observed. Not an error: it is a
	// first-class terminal state, distinguishable from failure.
	ReasonCancelled Reason = "cancelled"
	// ReasonError surfaces a backend or transport failure. The core never
	// retries; the caller decides.
	ReasonError Reason = "error"
)

// Terminal ends a stream.
type Terminal struct {
	Reason  Reason
	Message string // failure detail for ReasonError
}

// Event is one element of the result stream: either an edit or the terminal.
type Event struct {
	Edit     *document.Edit
	Terminal *Terminal
}

// PredictionBackend produces next-edit predictions. The returned channel
// yields zero or more edit events followed by one terminal event, then
// closes. Cancelling ctx must make the backend terminate promptly with
// ReasonCancelled, though callers tolerate late completions.
type PredictionBackend interface {
	ProvideNextEdit(ctx context.Context, req *Request) (<-chan Event, error)
}
