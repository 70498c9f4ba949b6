// Per-document edit and view history.
//
// History is an ordered, append-only, capped-length sequence. Entries are
// produced by the editor integration and consumed read-only by the context
// budgeter.
package document

import (
	"sync"
	"time"
)

// HistoryEntry is either an EditEntry or a VisibleRangesEntry.
type HistoryEntry interface {
	isHistoryEntry()
	EntryTime() time.Time
}

// EditEntry records a snapshot plus the edit that transformed it.
type EditEntry struct {
	Before *Snapshot
	Edit   Edit
	At     time.Time
}

func (EditEntry) isHistoryEntry()        {}
func (e EditEntry) EntryTime() time.Time { return e.At }

// VisibleRangesEntry records a snapshot plus the line ranges that were on
// screen. It carries no textual delta and is used for recently-viewed
// context.
type VisibleRangesEntry struct {
	Snapshot *Snapshot
	Ranges   []LineRange
	At       time.Time
}

func (VisibleRangesEntry) isHistoryEntry()        {}
func (e VisibleRangesEntry) EntryTime() time.Time { return e.At }

// History holds the capped per-document entry log, oldest first.
type History struct {
	mu      sync.RWMutex
	cap     int
	entries []HistoryEntry
}

// NewHistory creates a history capped at max entries. A non-positive cap
// defaults to 64.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 64
	}
	return &History{cap: max}
}

// Append adds an entry, dropping the oldest when the cap is exceeded.
func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

// Entries returns a copy of the log, oldest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// EditEntries returns only the edit entries, oldest first.
func (h *History) EditEntries() []EditEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []EditEntry
	for _, e := range h.entries {
		if ee, ok := e.(EditEntry); ok {
			out = append(out, ee)
		}
	}
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// FoldedReplacement is a replacement whose line numbers refer to the
// reference snapshot (the Before snapshot of the first folded entry), with
// the replaced and inserted content resolved to concrete lines.
type FoldedReplacement struct {
	OldStart int // 0-indexed line in the reference snapshot
	OldLines []string
	NewStart int // 0-indexed line after the edit
	NewLines []string
}

// FoldedEdit is one history entry's edit after folding.
type FoldedEdit struct {
	Replacements []FoldedReplacement
	At           time.Time
}

// FoldEdits folds a chronological run of edit entries so every replacement's
// line numbers refer to the first entry's Before snapshot. Later entries'
// positions are shifted back through the line deltas of earlier edits.
func FoldEdits(entries []EditEntry) []FoldedEdit {
	type shift struct {
		pos   int
		delta int
	}
	var shifts []shift

	out := make([]FoldedEdit, 0, len(entries))
	for _, en := range entries {
		fe := FoldedEdit{At: en.At}
		intra := 0
		for _, r := range en.Edit.Replacements {
			refStart := r.Range.Start
			for _, sh := range shifts {
				if sh.pos <= r.Range.Start {
					refStart -= sh.delta
				}
			}
			fe.Replacements = append(fe.Replacements, FoldedReplacement{
				OldStart: refStart,
				OldLines: en.Before.Slice(r.Range.Start, r.Range.End),
				NewStart: refStart + intra,
				NewLines: append([]string(nil), r.NewLines...),
			})
			intra += r.LineDelta()
		}
		for _, r := range en.Edit.Replacements {
			shifts = append(shifts, shift{pos: r.Range.Start, delta: r.LineDelta()})
		}
		out = append(out, fe)
	}
	return out
}
