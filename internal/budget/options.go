// Package budget assembles bounded-size prompt payloads under a strict token
// budget.
//
// DESIGN: Two independent budgeted builders (recently-viewed files and diff
// history) plus a current-file window, all driven by a page size and an
// injected token counter. Clipping happens on whole fixed-size pages of
// lines, never on arbitrary character cuts, so truncation boundaries stay
// stable between requests. Pure and synchronous; no I/O.
package budget

import (
	"errors"
	"fmt"
)

// ErrOutOfBudget is returned when even the minimum required content cannot
// fit the budget. Callers degrade gracefully (omit the section) rather than
// fail the request.
var ErrOutOfBudget = errors.New("budget: minimum content does not fit token budget")

// ClipStrategy selects how file content is clipped to the budget.
type ClipStrategy string

const (
	// TopToBottom consumes budget from the most recent file first, always
	// starting at line 0 of each file.
	TopToBottom ClipStrategy = "top_to_bottom"
	// AroundEditRange expands a page-aligned window outward from the focal
	// range instead of starting at line 0.
	AroundEditRange ClipStrategy = "around_edit_range"
	// Proportional splits the budget across all candidate files by edit
	// weight, with a guaranteed per-file minimum, then expands each file
	// around its focal range within its share.
	Proportional ClipStrategy = "proportional"
)

// LineNumberMode controls per-line number annotation in snippets.
type LineNumberMode string

const (
	NumbersNone   LineNumberMode = "none"
	NumbersSpaced LineNumberMode = "spaced" // "N| text"
	NumbersTight  LineNumberMode = "tight"  // "N|text"
)

// PromptOptions enumerates all budgeting knobs. Immutable, supplied per
// request.
type PromptOptions struct {
	RecentFilesTokenBudget int `yaml:"recent_files_token_budget"`
	DiffHistoryTokenBudget int `yaml:"diff_history_token_budget"`
	CurrentFileTokenBudget int `yaml:"current_file_token_budget"`

	MaxDiffEntries int `yaml:"max_diff_entries"`
	PageSize       int `yaml:"page_size"`

	// MinFileTokens is the per-file guarantee under Proportional.
	MinFileTokens int `yaml:"min_file_tokens"`

	Strategy         ClipStrategy   `yaml:"strategy"`
	LineNumbers      LineNumberMode `yaml:"line_numbers"`
	IncludeCursorTag bool           `yaml:"include_cursor_tag"`
}

// WithDefaults fills in zero fields.
func WithDefaults(o PromptOptions) PromptOptions {
	if o.RecentFilesTokenBudget == 0 {
		o.RecentFilesTokenBudget = 2000
	}
	if o.DiffHistoryTokenBudget == 0 {
		o.DiffHistoryTokenBudget = 1000
	}
	if o.CurrentFileTokenBudget == 0 {
		o.CurrentFileTokenBudget = 1500
	}
	if o.MaxDiffEntries == 0 {
		o.MaxDiffEntries = 16
	}
	if o.PageSize == 0 {
		o.PageSize = 10
	}
	if o.MinFileTokens == 0 {
		o.MinFileTokens = 100
	}
	if o.Strategy == "" {
		o.Strategy = TopToBottom
	}
	if o.LineNumbers == "" {
		o.LineNumbers = NumbersNone
	}
	return o
}

// Validate rejects malformed options.
func (o PromptOptions) Validate() error {
	if o.RecentFilesTokenBudget < 0 || o.DiffHistoryTokenBudget < 0 || o.CurrentFileTokenBudget < 0 {
		return fmt.Errorf("token budgets must be non-negative")
	}
	if o.PageSize < 0 {
		return fmt.Errorf("page_size must be non-negative")
	}
	if o.MaxDiffEntries < 0 {
		return fmt.Errorf("max_diff_entries must be non-negative")
	}
	switch o.Strategy {
	case "", TopToBottom, AroundEditRange, Proportional:
	default:
		return fmt.Errorf("unknown clip strategy %q", o.Strategy)
	}
	switch o.LineNumbers {
	case "", NumbersNone, NumbersSpaced, NumbersTight:
	default:
		return fmt.Errorf("unknown line number mode %q", o.LineNumbers)
	}
	return nil
}
