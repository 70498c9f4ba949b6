// Package streamdiff converges model output onto an edit window while the
// model is still generating.
//
// FLOW:
//  1. The backend streams replacement lines for the window, one at a time.
//  2. Each incoming line is matched against the remaining original lines.
//  3. When a line converges (matches an unconsumed original occurrence), the
//     divergence accumulated since the last convergence point is emitted as a
//     single line-range replacement.
//  4. When the input closes, any remaining divergence is flushed, with
//     adjacent replaced ranges coalesced into one hunk.
//
// The engine never buffers the whole generation: only the current divergence
// run is held, so the first edit can reach the UI while the model is still
// producing output. Malformed streams never fail; at worst the final flush
// covers a larger range than ideal.
package streamdiff

import "context"

// Edit replaces original window lines [StartLine, EndLine) with NewLines.
// Line numbers are relative to the window passed to Stream.
type Edit struct {
	StartLine int
	EndLine   int
	NewLines  []string
}

// NoCursor disables fast cursor-line emission.
const NoCursor = -1

// Stream consumes generated lines from in and emits line-range edits on the
// returned channel. cursorLine is the window-relative line the user's cursor
// sits on, or NoCursor. The output channel is closed after the input closes
// and the final divergence is flushed, or when ctx is cancelled (without a
// flush: a cancelled generation has no trustworthy tail).
func Stream(ctx context.Context, original []string, cursorLine int, in <-chan string) <-chan Edit {
	out := make(chan Edit, 8)
	go func() {
		defer close(out)
		c := newConverger(original, cursorLine)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-in:
				if !ok {
					// A cancelled stream has no trustworthy tail even when
					// the close wins the race against ctx.
					if ctx.Err() != nil {
						return
					}
					if e, ok := c.finish(); ok {
						if !emit(ctx, out, e) {
							return
						}
					}
					return
				}
				for _, e := range c.feed(line) {
					if !emit(ctx, out, e) {
						return
					}
				}
			}
		}
	}()
	return out
}

func emit(ctx context.Context, out chan<- Edit, e Edit) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// converger holds the matching state between the original window lines and
// the generated lines seen so far.
type converger struct {
	original   []string
	cursorLine int

	// occurrences maps each original line's text to its positions, so
	// repeated lines match their earliest unconsumed occurrence first.
	occurrences map[string][]int

	pos     int      // next unconsumed original line
	pending []string // generated lines not yet matched to an original line
}

func newConverger(original []string, cursorLine int) *converger {
	occ := make(map[string][]int, len(original))
	for i, l := range original {
		occ[l] = append(occ[l], i)
	}
	return &converger{
		original:    original,
		cursorLine:  cursorLine,
		occurrences: occ,
	}
}

// feed processes one generated line and returns zero or more edits that are
// already final.
func (c *converger) feed(line string) []Edit {
	match := c.earliestOccurrence(line)

	if match < 0 {
		// Divergent line. Fast cursor-line emission: when the cursor sits on
		// the line being rewritten and the new content cannot be confused
		// with a deletion of the current line plus a shift (i.e. it is not a
		// prefix of the next original line), emit the single-line edit now.
		if len(c.pending) == 0 && c.pos == c.cursorLine && c.pos < len(c.original) && !c.prefixOfNext(line) {
			c.pos++
			return []Edit{{StartLine: c.cursorLine, EndLine: c.cursorLine + 1, NewLines: []string{line}}}
		}
		c.pending = append(c.pending, line)
		return nil
	}

	// Convergence: original lines [pos, match) were replaced by pending.
	// When pending is empty and match == pos this is a clean match and
	// nothing is emitted. A purely insertive run (match == pos, pending
	// non-empty) is emitted as an addition, never as delete-then-reinsert.
	var edits []Edit
	if match > c.pos || len(c.pending) > 0 {
		edits = append(edits, Edit{StartLine: c.pos, EndLine: match, NewLines: c.pending})
	}
	c.pending = nil
	c.pos = match + 1
	return edits
}

// finish flushes the remaining divergence once the stream has ended.
func (c *converger) finish() (Edit, bool) {
	if c.pos >= len(c.original) && len(c.pending) == 0 {
		return Edit{}, false
	}
	return Edit{StartLine: c.pos, EndLine: len(c.original), NewLines: c.pending}, true
}

// earliestOccurrence returns the earliest unconsumed original position whose
// text equals line, or -1. Later occurrences of a repeated line are only
// used when no earlier unconsumed one fits.
func (c *converger) earliestOccurrence(line string) int {
	for _, p := range c.occurrences[line] {
		if p >= c.pos {
			return p
		}
	}
	return -1
}

// prefixOfNext reports whether line is a prefix of the original line after
// the cursor. In that case the generation may actually be deleting the
// cursor line and shifting the next one up, so early emission is suppressed
// and left to the convergence pass.
func (c *converger) prefixOfNext(line string) bool {
	next := c.pos + 1
	if next >= len(c.original) {
		return false
	}
	n := c.original[next]
	return len(line) <= len(n) && n[:len(line)] == line
}
