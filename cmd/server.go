// Editor-facing RPC server: one websocket per editor session, JSON frames
// both ways.
//
// FLOW: The editor mirrors its document state into the daemon (open, edit,
// selection, visible), then asks for suggestions (get_next_edit) and reports
// what the user did with them (shown, accepted, rejected, ignored). The
// daemon applies the adaptive debounce before each prediction request.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/compresr/nextedit/internal/budget"
	"github.com/compresr/nextedit/internal/config"
	"github.com/compresr/nextedit/internal/coordinator"
	"github.com/compresr/nextedit/internal/document"
	"github.com/compresr/nextedit/internal/monitor"
	"github.com/compresr/nextedit/internal/store"
	"github.com/compresr/nextedit/internal/workspace"
)

// ==== WIRE TYPES ====

type clientFrame struct {
	Type string `json:"type"`

	// open
	URI  string `json:"uri,omitempty"`
	Text string `json:"text,omitempty"`

	// document-addressed frames
	DocID string `json:"doc_id,omitempty"`

	// edit
	Replacements []wireReplacement `json:"replacements,omitempty"`

	// selection
	Line      int `json:"line,omitempty"`
	Character int `json:"character,omitempty"`

	// visible
	Ranges []wireRange `json:"ranges,omitempty"`

	// shown / accepted / rejected / ignored
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"` // ignored: superseded | dismissed | timeout
}

type wireReplacement struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Lines []string `json:"lines"`
}

type wireRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type serverFrame struct {
	Type string `json:"type"`

	DocID     string `json:"doc_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// suggestion
	Edit []wireReplacement `json:"edit,omitempty"`

	// no_suggestion / error
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	// status
	DebounceMs int64  `json:"debounce_ms,omitempty"`
	Level      string `json:"level,omitempty"`
}

// ==== SERVER ====

type server struct {
	cfg   *config.Config
	ws    *workspace.Memory
	coord *coordinator.Coordinator
	store store.Store

	httpSrv *http.Server
}

func newServer(cfg *config.Config, ws *workspace.Memory, coord *coordinator.Coordinator, st store.Store) *server {
	return &server{cfg: cfg, ws: ws, coord: coord, store: st}
}

// Run serves until ctx is cancelled.
func (s *server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/session", s.handleSession)

	s.httpSrv = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	log.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("listening for editor sessions")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	sess := &session{
		srv:  s,
		conn: conn,
		// shown suggestions awaiting a user verdict, by request id
		pending: make(map[string]*coordinator.Suggestion),
	}
	sess.run(r.Context())
}

// ==== SESSION ====

type session struct {
	srv  *server
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*coordinator.Suggestion

	// inFlight cancels the previous get_next_edit when a new one arrives on
	// the same session.
	inFlight context.CancelFunc
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close(websocket.StatusNormalClosure, "")

	log.Debug().Msg("editor session started")

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("editor session ended")
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeError("", fmt.Sprintf("malformed frame: %v", err))
			continue
		}

		if err := s.dispatch(ctx, &frame); err != nil {
			s.writeError(frame.RequestID, err.Error())
		}
	}
}

func (s *session) dispatch(ctx context.Context, f *clientFrame) error {
	switch f.Type {
	case "open":
		snap := s.srv.ws.Open(f.URI, f.Text)
		return s.write(serverFrame{Type: "opened", DocID: string(snap.DocID)})

	case "edit":
		docID := document.ID(f.DocID)
		if _, ok := s.srv.ws.ApplyEdit(docID, toEdit(f.Replacements)); !ok {
			return fmt.Errorf("unknown document %s", f.DocID)
		}
		return nil

	case "selection":
		s.srv.ws.SetSelection(document.ID(f.DocID), document.Position{Line: f.Line, Character: f.Character})
		return nil

	case "visible":
		ranges := make([]document.LineRange, len(f.Ranges))
		for i, r := range f.Ranges {
			ranges[i] = document.LineRange{Start: r.Start, End: r.End}
		}
		s.srv.ws.RecordVisibleRanges(document.ID(f.DocID), ranges)
		return nil

	case "get_next_edit":
		return s.getNextEdit(ctx, document.ID(f.DocID))

	case "shown":
		if sg := s.take(f.RequestID, false); sg != nil {
			s.srv.coord.HandleShown(sg)
		}
		return nil

	case "accepted":
		if sg := s.take(f.RequestID, true); sg != nil {
			s.srv.coord.HandleAcceptance(sg.DocID, sg)
			s.persist(monitor.Accepted, sg)
		}
		return nil

	case "rejected":
		if sg := s.take(f.RequestID, true); sg != nil {
			s.srv.coord.HandleRejection(sg.DocID, sg)
			s.persist(monitor.Rejected, sg)
		}
		return nil

	case "ignored":
		if sg := s.take(f.RequestID, true); sg != nil {
			s.srv.coord.HandleIgnored(sg.DocID, sg, ignoreReason(f.Reason))
			s.persist(monitor.Ignored, sg)
		}
		return nil

	case "status":
		return s.write(serverFrame{
			Type:       "status",
			DebounceMs: s.srv.coord.Debounce().Milliseconds(),
			Level:      string(s.srv.coord.AggressivenessLevel()),
		})

	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// getNextEdit debounces, then runs the prediction request in its own
// goroutine so the session keeps consuming editor frames meanwhile.
func (s *session) getNextEdit(ctx context.Context, docID document.ID) error {
	rc, err := s.requestContext(docID)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.inFlight != nil {
		s.inFlight()
	}
	s.inFlight = cancel
	s.mu.Unlock()

	debounce := s.srv.coord.Debounce()

	go func() {
		defer cancel()

		timer := time.NewTimer(debounce)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-reqCtx.Done():
			return
		}

		sg, err := s.srv.coord.GetNextEdit(reqCtx, docID, rc)
		if err != nil {
			s.writeError("", err.Error())
			return
		}
		s.deliver(sg)
	}()

	return nil
}

func (s *session) deliver(sg *coordinator.Suggestion) {
	if !sg.HasEdit() {
		_ = s.write(serverFrame{
			Type:      "no_suggestion",
			DocID:     string(sg.DocID),
			RequestID: sg.Telemetry.RequestID,
			Reason:    string(sg.Reason),
			Message:   sg.Message,
		})
		return
	}

	s.mu.Lock()
	s.pending[sg.Telemetry.RequestID] = sg
	s.mu.Unlock()

	_ = s.write(serverFrame{
		Type:      "suggestion",
		DocID:     string(sg.DocID),
		RequestID: sg.Telemetry.RequestID,
		Edit:      fromEdit(*sg.Edit),
		Level:     string(s.srv.coord.AggressivenessLevel()),
	})
}

// requestContext assembles the per-request view of the workspace.
func (s *session) requestContext(docID document.ID) (coordinator.RequestContext, error) {
	snap, ok := s.srv.ws.Snapshot(docID)
	if !ok {
		return coordinator.RequestContext{}, fmt.Errorf("unknown document %s", docID)
	}
	cursor, _ := s.srv.ws.Selection(docID)

	return coordinator.RequestContext{
		Snapshot:    snap,
		Cursor:      cursor,
		History:     s.srv.ws.History(docID),
		ViewedFiles: s.viewedFiles(docID),
		Options:     s.srv.cfg.Prompt,
	}, nil
}

// viewedFiles lists recently viewed documents other than the current one,
// most recent last, annotated for budget allocation.
func (s *session) viewedFiles(current document.ID) []budget.ViewedFile {
	var out []budget.ViewedFile
	for _, id := range s.srv.ws.RecentlyViewed(8) {
		if id == current {
			continue
		}
		snap, ok := s.srv.ws.Snapshot(id)
		if !ok {
			continue
		}
		vf := budget.ViewedFile{
			DocID: id,
			Path:  snap.URI,
			Lines: snap.Lines,
		}
		if h := s.srv.ws.History(id); h != nil {
			edits := h.EditEntries()
			vf.EditWeight = len(edits)
			if len(edits) > 0 {
				vf.Focal = focalRange(edits[len(edits)-1])
			}
		}
		out = append(out, vf)
	}
	return out
}

// focalRange is the line span touched by the entry's last replacement.
func focalRange(e document.EditEntry) *document.LineRange {
	reps := e.Edit.Replacements
	if len(reps) == 0 {
		return nil
	}
	r := reps[len(reps)-1].Range
	return &r
}

func (s *session) take(requestID string, remove bool) *coordinator.Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg := s.pending[requestID]
	if sg != nil && remove {
		delete(s.pending, requestID)
	}
	return sg
}

func (s *session) persist(kind monitor.Kind, sg *coordinator.Suggestion) {
	err := s.srv.store.Append(store.Interaction{
		Kind:      kind,
		RequestID: sg.Telemetry.RequestID,
		DocID:     string(sg.DocID),
		At:        time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to persist interaction")
	}
}

func (s *session) write(frame serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), s.srv.cfg.Server.WriteTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *session) writeError(requestID, msg string) {
	_ = s.write(serverFrame{Type: "error", RequestID: requestID, Message: msg})
}

func ignoreReason(reason string) coordinator.IgnoreReason {
	switch reason {
	case "superseded":
		return coordinator.IgnoredSuperseded
	case "timeout":
		return coordinator.IgnoredTimeout
	default:
		return coordinator.IgnoredDismissed
	}
}

func toEdit(reps []wireReplacement) document.Edit {
	e := document.Edit{Replacements: make([]document.Replacement, len(reps))}
	for i, r := range reps {
		e.Replacements[i] = document.Replacement{
			Range:    document.LineRange{Start: r.Start, End: r.End},
			NewLines: r.Lines,
		}
	}
	return e
}

func fromEdit(e document.Edit) []wireReplacement {
	out := make([]wireReplacement, len(e.Replacements))
	for i, r := range e.Replacements {
		out[i] = wireReplacement{Start: r.Range.Start, End: r.Range.End, Lines: r.NewLines}
	}
	return out
}
