package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/nextedit/internal/document"
)

func TestEncodeRequest(t *testing.T) {
	snap := document.NewSnapshot("file:///a.go", "a\nb\nc\nd")
	req := &Request{
		ID:          "nes_123",
		DocID:       snap.DocID,
		Snapshot:    snap,
		Cursor:      document.Position{Line: 2, Character: 1},
		WindowStart: 1,
		WindowEnd:   3,
		CurrentFile: "<|current_file_content|>\nb\nc\n<|/current_file_content|>",
		RecentFiles: "viewed",
		DiffHistory: "diffs",
	}

	frame, err := encodeRequest(req)
	require.NoError(t, err)

	assert.Equal(t, "predict", gjson.GetBytes(frame, "type").String())
	assert.Equal(t, "nes_123", gjson.GetBytes(frame, "id").String())
	assert.Equal(t, string(snap.DocID), gjson.GetBytes(frame, "doc_id").String())
	assert.Equal(t, "file:///a.go", gjson.GetBytes(frame, "uri").String())
	assert.EqualValues(t, 2, gjson.GetBytes(frame, "cursor.line").Int())
	assert.EqualValues(t, 1, gjson.GetBytes(frame, "cursor.character").Int())
	assert.EqualValues(t, 1, gjson.GetBytes(frame, "window.start").Int())
	assert.EqualValues(t, 3, gjson.GetBytes(frame, "window.end").Int())

	var lines []string
	for _, v := range gjson.GetBytes(frame, "window.lines").Array() {
		lines = append(lines, v.String())
	}
	assert.Equal(t, []string{"b", "c"}, lines)

	assert.Equal(t, "viewed", gjson.GetBytes(frame, "context.recently_viewed").String())
	assert.Equal(t, "diffs", gjson.GetBytes(frame, "context.diff_history").String())
}
