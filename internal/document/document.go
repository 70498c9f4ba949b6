// Package document provides immutable document snapshots and per-document
// edit history for the prediction pipeline.
//
// DESIGN: All diff and budgeting computations operate on snapshots, never on
// a live editor buffer. A snapshot carries the full text, its line split, and
// the structural edit that produced it from its parent. Documents are keyed
// by a stable ID derived from their location.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ID is a stable identity for a document, derived from its URI.
type ID string

// DeriveID produces the document ID for a URI. The same URI always maps to
// the same ID, so it can key per-document state across requests.
func DeriveID(uri string) ID {
	h := sha256.Sum256([]byte(uri))
	return ID(hex.EncodeToString(h[:])[:16])
}

// Position is a cursor position: 0-indexed line, 0-indexed character.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// LineRange is a half-open line interval [Start, End), 0-indexed.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of lines covered by the range.
func (r LineRange) Len() int { return r.End - r.Start }

// Contains reports whether line is inside the range.
func (r LineRange) Contains(line int) bool { return line >= r.Start && line < r.End }

// Replacement replaces the lines in Range with NewLines.
type Replacement struct {
	Range    LineRange `json:"range"`
	NewLines []string  `json:"new_lines"`
}

// LineDelta is the change in document length caused by the replacement.
func (r Replacement) LineDelta() int { return len(r.NewLines) - r.Range.Len() }

// Edit is a structural edit: an ordered set of non-overlapping replacements,
// ascending by start line, all relative to the same source snapshot.
type Edit struct {
	Replacements []Replacement `json:"replacements"`
}

// Single builds an edit with one replacement.
func Single(start, end int, newLines ...string) Edit {
	return Edit{Replacements: []Replacement{{Range: LineRange{Start: start, End: end}, NewLines: newLines}}}
}

// IsEmpty reports whether the edit changes nothing.
func (e Edit) IsEmpty() bool {
	for _, r := range e.Replacements {
		if r.Range.Len() > 0 || len(r.NewLines) > 0 {
			return false
		}
	}
	return true
}

// Snapshot is an immutable view of a document at a point in time.
type Snapshot struct {
	DocID ID
	URI   string
	Text  string
	Lines []string

	// BaseEdit describes how this snapshot differs from its parent.
	// Nil for an initial snapshot.
	BaseEdit *Edit
}

// NewSnapshot builds an initial snapshot from raw text.
func NewSnapshot(uri, text string) *Snapshot {
	return &Snapshot{
		DocID: DeriveID(uri),
		URI:   uri,
		Text:  text,
		Lines: SplitLines(text),
	}
}

// SplitLines splits text into lines without trailing newline markers.
// Empty text yields a single empty line, matching editor buffer semantics.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}

// JoinLines is the inverse of SplitLines.
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// Fingerprint returns a short stable hash of the snapshot text. Speculative
// requests use it to recognize whether the document reached the predicted
// post-edit state.
func (s *Snapshot) Fingerprint() string {
	h := sha256.Sum256([]byte(s.Text))
	return hex.EncodeToString(h[:])[:16]
}

// LineCount returns the number of lines in the snapshot.
func (s *Snapshot) LineCount() int { return len(s.Lines) }

// Slice returns the lines in [start, end), clamped to the snapshot bounds.
func (s *Snapshot) Slice(start, end int) []string {
	if start < 0 {
		start = 0
	}
	if end > len(s.Lines) {
		end = len(s.Lines)
	}
	if start >= end {
		return nil
	}
	out := make([]string, end-start)
	copy(out, s.Lines[start:end])
	return out
}

// Apply produces the snapshot that results from applying the edit. The
// receiver is not modified; the result's BaseEdit records the edit.
// Replacements must be ordered and non-overlapping.
func (s *Snapshot) Apply(e Edit) *Snapshot {
	lines := make([]string, 0, len(s.Lines))
	pos := 0
	for _, r := range e.Replacements {
		start, end := r.Range.Start, r.Range.End
		if start < pos {
			start = pos
		}
		if end > len(s.Lines) {
			end = len(s.Lines)
		}
		if start > len(s.Lines) {
			start = len(s.Lines)
		}
		lines = append(lines, s.Lines[pos:start]...)
		lines = append(lines, r.NewLines...)
		pos = end
	}
	lines = append(lines, s.Lines[pos:]...)

	edit := e
	return &Snapshot{
		DocID:    s.DocID,
		URI:      s.URI,
		Text:     JoinLines(lines),
		Lines:    lines,
		BaseEdit: &edit,
	}
}
