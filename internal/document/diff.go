package document

import (
	"strings"

	"github.com/aymanbagabas/go-udiff"
)

// Diff computes the line-level structural edit transforming before into
// after. Byte-level edits from the diff are expanded to whole-line
// replacements, with edits touching the same lines merged into one
// replacement.
func Diff(before, after *Snapshot) Edit {
	byteEdits := udiff.Strings(before.Text, after.Text)
	if len(byteEdits) == 0 {
		return Edit{}
	}

	offs := lineOffsets(before.Text)
	n := len(before.Lines)

	// Mark lines touched by any edit. An edit that covers the separator
	// between two lines dirties both, so merged-line deletions expand
	// correctly.
	dirty := make([]bool, n)
	for _, e := range byteEdits {
		for i := 0; i < n; i++ {
			lineStart := offs[i]
			lineEnd := lineStart + len(before.Lines[i])
			if e.Start <= lineEnd && e.End >= lineStart {
				dirty[i] = true
			}
		}
	}

	var edit Edit
	for i := 0; i < n; {
		if !dirty[i] {
			i++
			continue
		}
		j := i
		for j < n && dirty[j] {
			j++
		}
		segStart := offs[i]
		segEnd := offs[j-1] + len(before.Lines[j-1])
		newSeg := applyByteEdits(before.Text, segStart, segEnd, byteEdits)

		var newLines []string
		if newSeg != "" || segEnd == segStart {
			newLines = strings.Split(newSeg, "\n")
		}
		if newSeg == "" {
			newLines = nil
		}
		edit.Replacements = append(edit.Replacements, Replacement{
			Range:    LineRange{Start: i, End: j},
			NewLines: newLines,
		})
		i = j
	}
	return edit
}

// lineOffsets returns the byte offset of each line start in text.
func lineOffsets(text string) []int {
	offs := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offs = append(offs, i+1)
		}
	}
	return offs
}

// applyByteEdits rewrites text[segStart:segEnd] with the edits that fall
// inside the segment. Edits are sorted and non-overlapping.
func applyByteEdits(text string, segStart, segEnd int, edits []udiff.Edit) string {
	var b strings.Builder
	pos := segStart
	for _, e := range edits {
		if e.End < segStart || e.Start > segEnd {
			continue
		}
		start, end := e.Start, e.End
		if start < segStart {
			start = segStart
		}
		if end > segEnd {
			end = segEnd
		}
		if start > pos {
			b.WriteString(text[pos:start])
		}
		b.WriteString(e.New)
		pos = end
	}
	if pos < segEnd {
		b.WriteString(text[pos:segEnd])
	}
	return b.String()
}
