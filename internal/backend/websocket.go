// Websocket prediction backend client.
//
// WIRE FORMAT: one text frame per message, JSON. The client sends the
// request frame, then reads generation frames:
//
//	{"type":"line","text":"..."}   one generated window line
//	{"type":"done"}                generation finished
//	{"type":"no_suggestions"}      model produced nothing usable
//	{"type":"cancelled"}           server acknowledged cancellation
//	{"type":"error","message":""}  server-side failure
//
// Generated lines are converged onto the edit window by streamdiff while the
// stream is still open, so the first edit event is emitted before generation
// completes.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/nextedit/internal/document"
	"github.com/compresr/nextedit/internal/streamdiff"
)

// WSConfig configures the websocket client.
type WSConfig struct {
	URL         string        `yaml:"url"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadLimit   int64         `yaml:"read_limit"` // max frame size in bytes
}

// WSClient is a PredictionBackend over a websocket transport. Each request
// opens its own connection, so cancellation maps cleanly onto closing it.
type WSClient struct {
	cfg WSConfig
}

// NewWSClient creates a client with defaults applied.
func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &WSClient{cfg: cfg}
}

// ProvideNextEdit implements PredictionBackend.
func (c *WSClient) ProvideNextEdit(ctx context.Context, req *Request) (<-chan Event, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial prediction backend: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	frame, err := encodeRequest(req)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode failure")
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "write failure")
		return nil, fmt.Errorf("send prediction request: %w", err)
	}

	events := make(chan Event, 8)
	go c.run(ctx, conn, req, events)
	return events, nil
}

func (c *WSClient) run(ctx context.Context, conn *websocket.Conn, req *Request, events chan<- Event) {
	defer close(events)
	defer conn.Close(websocket.StatusNormalClosure, "")

	window := req.Snapshot.Slice(req.WindowStart, req.WindowEnd)
	cursorLine := streamdiff.NoCursor
	if req.Cursor.Line >= req.WindowStart && req.Cursor.Line < req.WindowEnd {
		cursorLine = req.Cursor.Line - req.WindowStart
	}

	// The diff stream flushes its unmatched tail only for a completed
	// generation. Any other terminal aborts it first: a no_suggestions or
	// error outcome must not surface as a deletion of the remaining window.
	diffCtx, abortDiff := context.WithCancel(ctx)
	defer abortDiff()
	lines := make(chan string, 32)
	edits := streamdiff.Stream(diffCtx, window, cursorLine, lines)

	// Best-effort cancel frame so the server can stop generating. The
	// request context is already done at that point, so the write gets its
	// own short deadline.
	stopNotify := context.AfterFunc(ctx, func() {
		wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
		defer wcancel()
		if err := conn.Write(wctx, websocket.MessageText, []byte(`{"type":"cancel"}`)); err != nil {
			log.Debug().Err(err).Str("request_id", req.ID).Msg("cancel frame not delivered")
		}
	})
	defer stopNotify()

	terminal := make(chan Terminal, 1)
	go c.readFrames(ctx, conn, req, lines, terminal, abortDiff)

	for e := range edits {
		docEdit := document.Single(e.StartLine+req.WindowStart, e.EndLine+req.WindowStart, e.NewLines...)
		select {
		case events <- Event{Edit: &docEdit}:
		case <-ctx.Done():
			events <- Event{Terminal: &Terminal{Reason: ReasonCancelled}}
			return
		}
	}

	select {
	case t := <-terminal:
		events <- Event{Terminal: &t}
	case <-ctx.Done():
		events <- Event{Terminal: &Terminal{Reason: ReasonCancelled}}
	}
}

// readFrames pumps generation frames into the line channel until a terminal
// frame or a read failure, then reports the terminal outcome. abortDiff is
// called before closing the line channel on every outcome except a completed
// generation, so only "done" lets the final flush through.
func (c *WSClient) readFrames(ctx context.Context, conn *websocket.Conn, req *Request, lines chan<- string, terminal chan<- Terminal, abortDiff context.CancelFunc) {
	defer close(lines)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			abortDiff()
			if ctx.Err() != nil {
				terminal <- Terminal{Reason: ReasonCancelled}
			} else {
				terminal <- Terminal{Reason: ReasonError, Message: err.Error()}
			}
			return
		}

		switch gjson.GetBytes(data, "type").String() {
		case "line":
			select {
			case lines <- gjson.GetBytes(data, "text").String():
			case <-ctx.Done():
				abortDiff()
				terminal <- Terminal{Reason: ReasonCancelled}
				return
			}
		case "done":
			terminal <- Terminal{Reason: ReasonDone}
			return
		case "no_suggestions":
			abortDiff()
			terminal <- Terminal{Reason: ReasonNoSuggestions}
			return
		case "cancelled":
			abortDiff()
			terminal <- Terminal{Reason: ReasonCancelled}
			return
		case "error":
			abortDiff()
			terminal <- Terminal{Reason: ReasonError, Message: gjson.GetBytes(data, "message").String()}
			return
		default:
			log.Warn().Str("request_id", req.ID).Str("frame", string(data)).Msg("unknown backend frame")
		}
	}
}

// encodeRequest builds the request frame.
func encodeRequest(req *Request) ([]byte, error) {
	frame := []byte(`{"type":"predict"}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		frame, err = sjson.SetBytes(frame, path, value)
	}

	set("id", req.ID)
	set("doc_id", string(req.DocID))
	set("uri", req.Snapshot.URI)
	set("cursor.line", req.Cursor.Line)
	set("cursor.character", req.Cursor.Character)
	set("window.start", req.WindowStart)
	set("window.end", req.WindowEnd)
	set("window.lines", req.Snapshot.Slice(req.WindowStart, req.WindowEnd))
	set("context.current_file", req.CurrentFile)
	set("context.recently_viewed", req.RecentFiles)
	set("context.diff_history", req.DiffHistory)
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}
	return frame, nil
}
