package budget

import (
	"fmt"
	"strings"

	"github.com/compresr/nextedit/internal/document"
)

const (
	snippetOpen  = "<|recently_viewed_code_snippet|>"
	snippetClose = "<|/recently_viewed_code_snippet|>"
)

// ViewedFile is one recently-viewed-file candidate. Callers pass candidates
// ordered most-recent-last; output snippets come back most-recent-first.
type ViewedFile struct {
	DocID document.ID
	Path  string
	Lines []string

	// Focal is the line range of the most recent edit, when known. Drives
	// AroundEditRange clipping.
	Focal *document.LineRange

	// EditWeight is the historical edit count, used by Proportional
	// allocation. Zero is treated as one.
	EditWeight int
}

// Snippet is one clipped, annotated file fragment.
type Snippet struct {
	DocID     document.ID
	Path      string
	StartLine int // 0-indexed true file offset of the first visible line
	Lines     []string
	Truncated bool
	Tokens    int
}

// Render produces the snippet markup. Line numbers are 1-indexed absolute
// file positions: a slice starting mid-file keeps its real numbers.
func (s Snippet) Render(mode LineNumberMode) string {
	var b strings.Builder
	b.WriteString(snippetOpen)
	b.WriteString(" code_snippet_file_path: ")
	b.WriteString(s.Path)
	if s.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteByte('\n')
	for i, line := range s.Lines {
		switch mode {
		case NumbersSpaced:
			fmt.Fprintf(&b, "%d| %s\n", s.StartLine+i+1, line)
		case NumbersTight:
			fmt.Fprintf(&b, "%d|%s\n", s.StartLine+i+1, line)
		default:
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteString(snippetClose)
	return b.String()
}

// RecentFilesResult is the assembled recently-viewed section.
type RecentFilesResult struct {
	Snippets     []Snippet // most recent first
	Text         string
	DocsInPrompt []document.ID
	TokensUsed   int
}

// BuildRecentFiles clips the candidate files to the recent-files token
// budget using the configured strategy. Returns ErrOutOfBudget when
// candidates exist but nothing fits.
func BuildRecentFiles(files []ViewedFile, opts PromptOptions, count TokenCounter) (*RecentFilesResult, error) {
	opts = WithDefaults(opts)
	res := &RecentFilesResult{}
	if len(files) == 0 {
		return res, nil
	}

	switch opts.Strategy {
	case Proportional:
		if err := buildProportional(res, files, opts, count); err != nil {
			return nil, err
		}
	default:
		budget := opts.RecentFilesTokenBudget
		for i := len(files) - 1; i >= 0; i-- { // most recent first
			f := files[i]
			var snip *Snippet
			if opts.Strategy == AroundEditRange {
				snip = clipAroundEditRange(f, budget, opts, count)
			} else {
				snip = clipTopToBottom(f, budget, opts, count)
			}
			if snip == nil {
				continue
			}
			res.Snippets = append(res.Snippets, *snip)
			budget -= snip.Tokens
		}
	}

	if len(res.Snippets) == 0 {
		return nil, ErrOutOfBudget
	}

	parts := make([]string, 0, len(res.Snippets))
	for _, s := range res.Snippets {
		parts = append(parts, s.Render(opts.LineNumbers))
		res.DocsInPrompt = append(res.DocsInPrompt, s.DocID)
		res.TokensUsed += s.Tokens
	}
	res.Text = strings.Join(parts, "\n")
	return res, nil
}

// buildProportional allocates the shared budget across all candidates by
// edit weight with a per-file minimum, dropping the oldest files entirely
// when the minimums alone exceed the budget.
func buildProportional(res *RecentFilesResult, files []ViewedFile, opts PromptOptions, count TokenCounter) error {
	budget := opts.RecentFilesTokenBudget
	kept := files
	for len(kept) > 0 && len(kept)*opts.MinFileTokens > budget {
		kept = kept[1:] // oldest first in the input ordering
	}
	if len(kept) == 0 {
		return ErrOutOfBudget
	}

	totalWeight := 0
	for _, f := range kept {
		totalWeight += weightOf(f)
	}
	extra := budget - len(kept)*opts.MinFileTokens

	for i := len(kept) - 1; i >= 0; i-- { // most recent first
		f := kept[i]
		alloc := opts.MinFileTokens + extra*weightOf(f)/totalWeight
		if snip := clipAroundEditRange(f, alloc, opts, count); snip != nil {
			res.Snippets = append(res.Snippets, *snip)
		}
	}
	return nil
}

func weightOf(f ViewedFile) int {
	if f.EditWeight <= 0 {
		return 1
	}
	return f.EditWeight
}

// clipTopToBottom grows a window from line 0 one page at a time until the
// rendered snippet no longer fits. Returns nil when not even one page fits.
func clipTopToBottom(f ViewedFile, budget int, opts PromptOptions, count TokenCounter) *Snippet {
	if budget <= 0 || len(f.Lines) == 0 {
		return nil
	}
	var best *Snippet
	for hi := min(opts.PageSize, len(f.Lines)); ; hi = min(hi+opts.PageSize, len(f.Lines)) {
		cand := makeSnippet(f, 0, hi, opts, count)
		if cand.Tokens > budget {
			break
		}
		best = cand
		if hi == len(f.Lines) {
			break
		}
	}
	return best
}

// clipAroundEditRange expands a page-aligned window outward from the focal
// range until the file's budget is exhausted. Files without a focal range
// fall back to top-to-bottom clipping.
func clipAroundEditRange(f ViewedFile, budget int, opts PromptOptions, count TokenCounter) *Snippet {
	if f.Focal == nil {
		return clipTopToBottom(f, budget, opts, count)
	}
	if budget <= 0 || len(f.Lines) == 0 {
		return nil
	}

	page := opts.PageSize
	center := f.Focal.Start / page
	lo, hi := center*page, min((center+1)*page, len(f.Lines))
	if lo >= len(f.Lines) {
		lo = (len(f.Lines) - 1) / page * page
		hi = len(f.Lines)
	}

	best := makeSnippet(f, lo, hi, opts, count)
	if best.Tokens > budget {
		return nil
	}

	for {
		grew := false
		if hi < len(f.Lines) {
			cand := makeSnippet(f, lo, min(hi+page, len(f.Lines)), opts, count)
			if cand.Tokens <= budget {
				hi = min(hi+page, len(f.Lines))
				best = cand
				grew = true
			}
		}
		if lo > 0 {
			cand := makeSnippet(f, max(lo-page, 0), hi, opts, count)
			if cand.Tokens <= budget {
				lo = max(lo-page, 0)
				best = cand
				grew = true
			}
		}
		if !grew || (lo == 0 && hi == len(f.Lines)) {
			return best
		}
	}
}

func makeSnippet(f ViewedFile, lo, hi int, opts PromptOptions, count TokenCounter) *Snippet {
	s := &Snippet{
		DocID:     f.DocID,
		Path:      f.Path,
		StartLine: lo,
		Lines:     f.Lines[lo:hi],
		Truncated: lo > 0 || hi < len(f.Lines),
	}
	s.Tokens = count(s.Render(opts.LineNumbers))
	return s
}
