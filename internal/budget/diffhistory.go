package budget

import (
	"fmt"
	"strings"

	"github.com/compresr/nextedit/internal/document"
)

// Hunk is one contiguous block of removed/added lines.
type Hunk struct {
	OldStart int // 1-indexed
	OldLines []string
	NewStart int // 1-indexed
	NewLines []string
}

// Render produces the unified-diff hunk: header plus -/+ lines.
func (h Hunk) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, len(h.OldLines), h.NewStart, len(h.NewLines))
	for _, l := range h.OldLines {
		b.WriteString("-")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	for _, l := range h.NewLines {
		b.WriteString("+")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// DiffHistoryResult is the assembled diff-history section, oldest entry
// first.
type DiffHistoryResult struct {
	Text         string
	Entries      int
	Hunks        int
	DocsInPrompt []document.ID
	TokensUsed   int
}

// BuildDiffHistory walks the folded edit history newest-to-oldest,
// accumulating unified-diff blocks until the entry cap or the token budget
// would be exceeded. An entry that would overflow the budget is dropped, not
// truncated. The final text is reassembled oldest-to-newest.
//
// The folded entries must be chronological (oldest first) with all ranges
// referring to a single reference snapshot; see document.FoldEdits.
func BuildDiffHistory(docID document.ID, path string, folded []document.FoldedEdit, opts PromptOptions, count TokenCounter) (*DiffHistoryResult, error) {
	opts = WithDefaults(opts)
	res := &DiffHistoryResult{}

	budget := opts.DiffHistoryTokenBudget
	var blocks []string // newest first while accumulating

	for i := len(folded) - 1; i >= 0; i-- {
		if res.Entries >= opts.MaxDiffEntries {
			break
		}
		hunks := groupHunks(folded[i].Replacements)
		if len(hunks) == 0 {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, path)
		for _, h := range hunks {
			b.WriteString(h.Render())
		}
		block := b.String()

		tokens := count(block)
		if res.TokensUsed+tokens > budget {
			break
		}
		blocks = append(blocks, block)
		res.TokensUsed += tokens
		res.Entries++
		res.Hunks += len(hunks)
	}

	if res.Entries == 0 {
		return res, nil
	}

	// Chronological order for presentation.
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	res.Text = strings.Join(blocks, "")
	res.DocsInPrompt = []document.ID{docID}
	return res, nil
}

// groupHunks converts one entry's replacements into hunks, merging
// line-adjacent replacements into a single hunk and skipping hunks whose
// old and new content is entirely blank.
func groupHunks(reps []document.FoldedReplacement) []Hunk {
	var hunks []Hunk
	for _, r := range reps {
		if len(hunks) > 0 {
			last := &hunks[len(hunks)-1]
			lastOldEnd := last.OldStart - 1 + len(last.OldLines) // back to 0-indexed
			if r.OldStart <= lastOldEnd {
				last.OldLines = append(last.OldLines, r.OldLines...)
				last.NewLines = append(last.NewLines, r.NewLines...)
				continue
			}
		}
		hunks = append(hunks, Hunk{
			OldStart: r.OldStart + 1,
			OldLines: append([]string(nil), r.OldLines...),
			NewStart: r.NewStart + 1,
			NewLines: append([]string(nil), r.NewLines...),
		})
	}

	out := hunks[:0]
	for _, h := range hunks {
		if allBlank(h.OldLines) && allBlank(h.NewLines) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
