package document_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/nextedit/internal/document"
)

func TestDeriveID_StablePerURI(t *testing.T) {
	a := document.DeriveID("file:///a.go")
	b := document.DeriveID("file:///b.go")

	assert.Equal(t, a, document.DeriveID("file:///a.go"))
	assert.NotEqual(t, a, b)
	assert.Len(t, string(a), 16)
}

func TestSnapshot_Fingerprint(t *testing.T) {
	s1 := document.NewSnapshot("file:///a.go", "hello\nworld")
	s2 := document.NewSnapshot("file:///b.go", "hello\nworld")
	s3 := document.NewSnapshot("file:///a.go", "hello\nthere")

	// Same text, same fingerprint, regardless of location.
	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())
	assert.NotEqual(t, s1.Fingerprint(), s3.Fingerprint())
}

func TestSnapshot_Apply(t *testing.T) {
	snap := document.NewSnapshot("file:///a.go", "a\nb\nc\nd")

	after := snap.Apply(document.Single(1, 3, "B", "C", "C2"))

	assert.Equal(t, []string{"a", "B", "C", "C2", "d"}, after.Lines)
	assert.Equal(t, "a\nB\nC\nC2\nd", after.Text)
	require.NotNil(t, after.BaseEdit)

	// The receiver is untouched.
	assert.Equal(t, []string{"a", "b", "c", "d"}, snap.Lines)
	assert.Equal(t, snap.DocID, after.DocID)
}

func TestSnapshot_ApplyMultipleReplacements(t *testing.T) {
	snap := document.NewSnapshot("file:///a.go", "a\nb\nc\nd\ne")

	after := snap.Apply(document.Edit{Replacements: []document.Replacement{
		{Range: document.LineRange{Start: 0, End: 1}, NewLines: []string{"A"}},
		{Range: document.LineRange{Start: 2, End: 2}, NewLines: []string{"x"}},
		{Range: document.LineRange{Start: 4, End: 5}, NewLines: nil},
	}})

	assert.Equal(t, []string{"A", "b", "x", "c", "d"}, after.Lines)
}

func TestSnapshot_SliceClamps(t *testing.T) {
	snap := document.NewSnapshot("file:///a.go", "a\nb\nc")

	assert.Equal(t, []string{"a", "b"}, snap.Slice(-5, 2))
	assert.Equal(t, []string{"c"}, snap.Slice(2, 99))
	assert.Nil(t, snap.Slice(3, 2))
}

func TestEdit_IsEmpty(t *testing.T) {
	assert.True(t, document.Edit{}.IsEmpty())
	assert.True(t, document.Single(3, 3).IsEmpty())
	assert.False(t, document.Single(3, 4).IsEmpty())
	assert.False(t, document.Single(3, 3, "x").IsEmpty())
}

func TestDiff_SingleLineChange(t *testing.T) {
	before := document.NewSnapshot("file:///a.go", "a\nb\nc")
	after := document.NewSnapshot("file:///a.go", "a\nB\nc")

	edit := document.Diff(before, after)

	require.NotEmpty(t, edit.Replacements)
	// The untouched first line stays outside every replacement.
	for _, r := range edit.Replacements {
		assert.GreaterOrEqual(t, r.Range.Start, 1)
	}

	// Applying the diff reproduces the target text.
	assert.Equal(t, after.Text, before.Apply(edit).Text)
}

func TestDiff_RoundTrips(t *testing.T) {
	tests := []struct {
		name          string
		before, after string
	}{
		{"insertion", "a\nc", "a\nb\nc"},
		{"deletion", "a\nb\nc", "a\nc"},
		{"replace_block", "a\nb\nc\nd", "a\nX\nY\nd"},
		{"append_line", "a\nb", "a\nb\nc"},
		{"delete_first", "a\nb\nc", "b\nc"},
		{"rewrite_all", "a\nb", "x\ny\nz"},
		{"identical", "a\nb", "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := document.NewSnapshot("file:///a.go", tt.before)
			after := document.NewSnapshot("file:///a.go", tt.after)

			edit := document.Diff(before, after)
			assert.Equal(t, tt.after, before.Apply(edit).Text)
		})
	}
}

func TestDiff_IdenticalTextIsEmpty(t *testing.T) {
	before := document.NewSnapshot("file:///a.go", "a\nb")
	after := document.NewSnapshot("file:///a.go", "a\nb")

	assert.True(t, document.Diff(before, after).IsEmpty())
}

func TestHistory_CapDropsOldest(t *testing.T) {
	h := document.NewHistory(2)
	snap := document.NewSnapshot("file:///a.go", "a")

	for i := 0; i < 3; i++ {
		h.Append(document.EditEntry{Before: snap, At: time.Unix(int64(i), 0)})
	}

	entries := h.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, time.Unix(1, 0), entries[0].EntryTime())
	assert.Equal(t, time.Unix(2, 0), entries[1].EntryTime())
}

func TestHistory_EditEntriesFiltersViews(t *testing.T) {
	h := document.NewHistory(10)
	snap := document.NewSnapshot("file:///a.go", "a")

	h.Append(document.EditEntry{Before: snap, Edit: document.Single(0, 1, "b"), At: time.Now()})
	h.Append(document.VisibleRangesEntry{Snapshot: snap, Ranges: []document.LineRange{{Start: 0, End: 1}}, At: time.Now()})

	assert.Equal(t, 2, h.Len())
	assert.Len(t, h.EditEntries(), 1)
}

func TestFoldEdits_SingleEntry(t *testing.T) {
	before := document.NewSnapshot("file:///a.go", "a\nb\nc")
	entry := document.EditEntry{
		Before: before,
		Edit:   document.Single(1, 2, "B1", "B2"),
		At:     time.Unix(10, 0),
	}

	folded := document.FoldEdits([]document.EditEntry{entry})

	require.Len(t, folded, 1)
	require.Len(t, folded[0].Replacements, 1)
	r := folded[0].Replacements[0]
	assert.Equal(t, 1, r.OldStart)
	assert.Equal(t, []string{"b"}, r.OldLines)
	assert.Equal(t, 1, r.NewStart)
	assert.Equal(t, []string{"B1", "B2"}, r.NewLines)
}

func TestFoldEdits_LaterEntryShiftedToReferenceSnapshot(t *testing.T) {
	// First edit inserts a line at the top; the second edit's positions are
	// relative to the grown document and must shift back by one.
	s0 := document.NewSnapshot("file:///a.go", "a\nb\nc")
	e1 := document.Single(0, 0, "header")
	s1 := s0.Apply(e1)

	e2 := document.Single(3, 4, "C") // rewrites "c", line 2 of the reference

	folded := document.FoldEdits([]document.EditEntry{
		{Before: s0, Edit: e1, At: time.Unix(1, 0)},
		{Before: s1, Edit: e2, At: time.Unix(2, 0)},
	})

	require.Len(t, folded, 2)
	r := folded[1].Replacements[0]
	assert.Equal(t, 2, r.OldStart)
	assert.Equal(t, []string{"c"}, r.OldLines)
	assert.Equal(t, []string{"C"}, r.NewLines)
}

func TestFoldEdits_DeletionShiftsForward(t *testing.T) {
	// First edit deletes a line; the second edit's positions shift up in
	// the live document and must map back down in the reference.
	s0 := document.NewSnapshot("file:///a.go", "a\nb\nc\nd")
	e1 := document.Single(0, 1) // delete "a"
	s1 := s0.Apply(e1)

	e2 := document.Single(2, 3, "D") // rewrites "d", line 3 of the reference

	folded := document.FoldEdits([]document.EditEntry{
		{Before: s0, Edit: e1, At: time.Unix(1, 0)},
		{Before: s1, Edit: e2, At: time.Unix(2, 0)},
	})

	r := folded[1].Replacements[0]
	assert.Equal(t, 3, r.OldStart)
	assert.Equal(t, []string{"d"}, r.OldLines)
}
