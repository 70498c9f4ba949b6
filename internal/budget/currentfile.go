package budget

import (
	"strings"

	"github.com/compresr/nextedit/internal/document"
)

const (
	currentFileOpen  = "<|current_file_content|>"
	currentFileClose = "<|/current_file_content|>"
	cursorTag        = "<|cursor|>"
)

// FileWindowResult is the clipped current-file section.
type FileWindowResult struct {
	Text       string
	StartLine  int // 0-indexed first visible line
	EndLine    int // exclusive
	TokensUsed int
}

// BuildCurrentFileWindow clips the current document to its token budget,
// expanding page-aligned from the cursor line. When IncludeCursorTag is set,
// the cursor position is marked inline so the model can anchor on it. The
// budget is checked against the rendered section, markup included.
func BuildCurrentFileWindow(snap *document.Snapshot, cursor document.Position, opts PromptOptions, count TokenCounter) (*FileWindowResult, error) {
	opts = WithDefaults(opts)
	budget := opts.CurrentFileTokenBudget
	lines := annotateCursor(snap.Lines, cursor, opts.IncludeCursorTag)
	if budget <= 0 || len(lines) == 0 {
		return nil, ErrOutOfBudget
	}

	page := opts.PageSize
	focal := cursor.Line
	if focal < 0 {
		focal = 0
	}
	lo := focal / page * page
	hi := min(lo+page, len(lines))
	if lo >= len(lines) {
		lo = (len(lines) - 1) / page * page
		hi = len(lines)
	}

	text := renderCurrentFile(lines[lo:hi])
	tokens := count(text)
	if tokens > budget {
		return nil, ErrOutOfBudget
	}

	for {
		grew := false
		if hi < len(lines) {
			next := min(hi+page, len(lines))
			cand := renderCurrentFile(lines[lo:next])
			if t := count(cand); t <= budget {
				hi, text, tokens = next, cand, t
				grew = true
			}
		}
		if lo > 0 {
			next := max(lo-page, 0)
			cand := renderCurrentFile(lines[next:hi])
			if t := count(cand); t <= budget {
				lo, text, tokens = next, cand, t
				grew = true
			}
		}
		if !grew || (lo == 0 && hi == len(lines)) {
			break
		}
	}

	return &FileWindowResult{
		Text:       text,
		StartLine:  lo,
		EndLine:    hi,
		TokensUsed: tokens,
	}, nil
}

func renderCurrentFile(lines []string) string {
	var b strings.Builder
	b.WriteString(currentFileOpen)
	b.WriteByte('\n')
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString(currentFileClose)
	return b.String()
}

func annotateCursor(lines []string, cursor document.Position, include bool) []string {
	if !include || cursor.Line < 0 || cursor.Line >= len(lines) {
		return lines
	}
	out := make([]string, len(lines))
	copy(out, lines)
	l := out[cursor.Line]
	col := cursor.Character
	if col < 0 {
		col = 0
	}
	if col > len(l) {
		col = len(l)
	}
	out[cursor.Line] = l[:col] + cursorTag + l[col:]
	return out
}
