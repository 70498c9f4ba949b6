// Package coordinator orchestrates prediction requests per document.
//
// FLOW:
//  1. GetNextEdit arrives → check the speculative slot and the result cache
//     a. matching completed speculation → adopt it (speculative cache hit)
//     b. matching in-flight speculation → join it (speculative reuse)
//     c. otherwise → build context synchronously, issue a fresh backend call
//  2. HandleShown → pre-issue the next request against the predicted
//     post-edit document state and park it in the speculative slot
//  3. HandleAcceptance keeps the speculation (acceptance is exactly the
//     trajectory it predicted); HandleRejection and HandleIgnored of a
//     shown, non-superseded suggestion cancel it
//
// The speculative slot is a single system-wide resource: acquiring it for a
// new document cancels the prior holder, so no two speculative calls ever
// coexist.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/compresr/nextedit/internal/backend"
	"github.com/compresr/nextedit/internal/budget"
	"github.com/compresr/nextedit/internal/document"
	"github.com/compresr/nextedit/internal/monitor"
	"github.com/compresr/nextedit/internal/monitoring"
)

// Config contains the coordinator feature flags and tuning.
type Config struct {
	SpeculativeEnabled bool          `yaml:"speculative_enabled"`
	SpeculativeTTL     time.Duration `yaml:"speculative_ttl"` // completed-result retention
	WindowRadius       int           `yaml:"window_radius"`   // edit window half-height in lines
}

// WithDefaults fills in zero fields.
func WithDefaults(c Config) Config {
	if c.SpeculativeTTL == 0 {
		c.SpeculativeTTL = 30 * time.Second
	}
	if c.WindowRadius == 0 {
		c.WindowRadius = 16
	}
	return c
}

// Coordinator manages fresh and speculative prediction requests against
// mutating documents. All collaborators are constructor-passed; there are no
// process-wide singletons.
type Coordinator struct {
	cfg     Config
	backend backend.PredictionBackend
	counter budget.TokenCounter
	monitor *monitor.Monitor
	tracker *monitoring.Tracker

	mu     sync.Mutex
	active map[document.ID]*activeRequest
	spec   *speculativeEntry
	cache  *ttlcache.Cache[string, *specResult]
}

type activeRequest struct {
	id     string
	cancel context.CancelFunc
}

// New wires a coordinator from its collaborators.
func New(cfg Config, b backend.PredictionBackend, counter budget.TokenCounter, mon *monitor.Monitor, tracker *monitoring.Tracker) *Coordinator {
	cfg = WithDefaults(cfg)
	c := &Coordinator{
		cfg:     cfg,
		backend: b,
		counter: counter,
		monitor: mon,
		tracker: tracker,
		active:  make(map[document.ID]*activeRequest),
		cache:   ttlcache.New(ttlcache.WithTTL[string, *specResult](cfg.SpeculativeTTL)),
	}
	go c.cache.Start()
	return c
}

// Close cancels outstanding speculative work and stops the cache janitor.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.spec != nil {
		c.spec.cancel()
		c.spec = nil
	}
	for id, a := range c.active {
		a.cancel()
		delete(c.active, id)
	}
	c.mu.Unlock()
	c.cache.Stop()
}

// GetNextEdit returns the current suggestion for the document. A matching
// speculative entry is adopted instead of issuing a new backend call; its
// telemetry marks the reuse kind.
func (c *Coordinator) GetNextEdit(ctx context.Context, docID document.ID, rc RequestContext) (*Suggestion, error) {
	start := time.Now()
	fp := rc.Snapshot.Fingerprint()

	c.mu.Lock()
	// A newer request for the same document supersedes the older one.
	if a, ok := c.active[docID]; ok {
		a.cancel()
		delete(c.active, docID)
	}

	var joined *speculativeEntry
	if c.spec != nil {
		switch {
		case c.spec.docID == docID && c.spec.fingerprint == fp:
			joined = c.spec
			c.spec = nil
		case c.spec.docID != docID:
			// Single speculative slot system-wide: a request for another
			// document evicts the holder.
			c.spec.cancel()
			c.spec = nil
		default:
			// Same document, different state: live-typing noise does not
			// cancel the speculation; only rejection/ignore or another
			// document's request does.
		}
	}
	c.mu.Unlock()

	if joined != nil {
		return c.adopt(ctx, docID, joined, start)
	}

	if item := c.cache.Get(specKey(docID, fp)); item != nil {
		res := item.Value()
		c.cache.Delete(specKey(docID, fp))
		s := c.fromResult(docID, res, hitRequestID(res.base), monitoring.ReuseCacheHit, start)
		c.record(s)
		return s, nil
	}

	return c.fresh(ctx, docID, rc, start)
}

// fresh issues a new backend call, building prompt context synchronously
// first.
func (c *Coordinator) fresh(ctx context.Context, docID document.ID, rc RequestContext, start time.Time) (*Suggestion, error) {
	id := "nes_" + uuid.New().String()
	req, tokens, docs := c.buildRequest(id, docID, rc)

	cctx, cancel := context.WithCancel(ctx)
	ar := &activeRequest{id: id, cancel: cancel}
	c.mu.Lock()
	c.active[docID] = ar
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		if cur, ok := c.active[docID]; ok && cur == ar {
			delete(c.active, docID)
		}
		c.mu.Unlock()
	}()

	s := &Suggestion{
		DocID:    docID,
		Snapshot: rc.Snapshot,
		reqCtx:   rc,
		Telemetry: Telemetry{
			RequestID:    id,
			Reuse:        monitoring.ReuseFresh,
			PromptTokens: tokens,
			DocsInPrompt: docs,
		},
	}

	events, err := c.backend.ProvideNextEdit(cctx, req)
	if err != nil {
		s.Reason = BackendFailure
		s.Message = err.Error()
		s.Telemetry.Latency = time.Since(start)
		c.record(s)
		return s, nil
	}

	edit, term := awaitFirst(cctx, events)
	switch {
	case term.Reason == backend.ReasonCancelled:
		s.Reason = GotCancelled
	case term.Reason == backend.ReasonError:
		s.Reason = BackendFailure
		s.Message = term.Message
	case edit != nil:
		s.Edit = edit
	default:
		s.Reason = NoSuggestions
	}
	s.Telemetry.Latency = time.Since(start)
	c.record(s)
	return s, nil
}

// HandleShown pre-issues the next prediction against the document state the
// shown edit would produce, without mutating the real document.
func (c *Coordinator) HandleShown(s *Suggestion) {
	if !c.cfg.SpeculativeEnabled || !s.HasEdit() {
		return
	}
	predicted := s.Snapshot.Apply(*s.Edit)
	e := &speculativeEntry{
		docID:       s.DocID,
		fingerprint: predicted.Fingerprint(),
		base:        uuid.New().String(),
		done:        make(chan struct{}),
	}
	var cctx context.Context
	cctx, e.cancel = context.WithCancel(context.Background())

	c.mu.Lock()
	if c.spec != nil {
		c.spec.cancel()
	}
	c.spec = e
	c.mu.Unlock()

	log.Debug().Str("doc", string(s.DocID)).Str("fingerprint", e.fingerprint).Msg("speculative request issued")
	go c.runSpeculative(cctx, e, predicted, s)
}

// HandleAcceptance records the action. It never cancels the speculative
// entry: acceptance lands the document exactly on the predicted state, so
// the next GetNextEdit is expected to reuse it.
func (c *Coordinator) HandleAcceptance(docID document.ID, s *Suggestion) {
	c.observe(docID, monitor.Accepted, "")
}

// HandleRejection records the action and cancels pending speculation for the
// document: the user left the predicted trajectory.
func (c *Coordinator) HandleRejection(docID document.ID, s *Suggestion) {
	c.observe(docID, monitor.Rejected, "")
	c.cancelSpeculativeFor(docID)
}

// HandleIgnored records the action. Ignoring a shown, non-superseded
// suggestion cancels pending speculation; a superseded suggestion was
// already replaced and says nothing about the trajectory.
func (c *Coordinator) HandleIgnored(docID document.ID, s *Suggestion, reason IgnoreReason) {
	c.observe(docID, monitor.Ignored, string(reason))
	if reason != IgnoredSuperseded {
		c.cancelSpeculativeFor(docID)
	}
}

// Debounce exposes the monitor's current debounce duration for the request
// timing policy.
func (c *Coordinator) Debounce() time.Duration {
	return c.monitor.Debounce()
}

// AggressivenessLevel exposes the monitor's current tier.
func (c *Coordinator) AggressivenessLevel() monitor.Level {
	return c.monitor.AggressivenessLevel()
}

func (c *Coordinator) observe(docID document.ID, kind monitor.Kind, reason string) {
	c.monitor.Observe(kind)
	c.tracker.RecordInteraction(&monitoring.InteractionEvent{
		Timestamp: time.Now(),
		DocID:     docID,
		Kind:      string(kind),
		Reason:    reason,
	})
}

func (c *Coordinator) cancelSpeculativeFor(docID document.ID) {
	c.mu.Lock()
	if c.spec != nil && c.spec.docID == docID {
		c.spec.cancel()
		c.spec = nil
	}
	c.mu.Unlock()

	c.cache.Range(func(item *ttlcache.Item[string, *specResult]) bool {
		if item.Value().docID == docID {
			c.cache.Delete(item.Key())
		}
		return true
	})
}

// buildRequest assembles the bounded prompt sections. An out-of-budget
// section is omitted rather than failing the request.
func (c *Coordinator) buildRequest(id string, docID document.ID, rc RequestContext) (*backend.Request, int, []document.ID) {
	opts := budget.WithDefaults(rc.Options)

	req := &backend.Request{
		ID:       id,
		DocID:    docID,
		Snapshot: rc.Snapshot,
		Cursor:   rc.Cursor,
	}
	req.WindowStart = rc.Cursor.Line - c.cfg.WindowRadius
	if req.WindowStart < 0 {
		req.WindowStart = 0
	}
	req.WindowEnd = rc.Cursor.Line + c.cfg.WindowRadius + 1
	if req.WindowEnd > rc.Snapshot.LineCount() {
		req.WindowEnd = rc.Snapshot.LineCount()
	}

	tokens := 0
	docs := []document.ID{docID}
	seen := map[document.ID]bool{docID: true}

	if cur, err := budget.BuildCurrentFileWindow(rc.Snapshot, rc.Cursor, opts, c.counter); err == nil {
		req.CurrentFile = cur.Text
		tokens += cur.TokensUsed
	} else if !errors.Is(err, budget.ErrOutOfBudget) {
		log.Warn().Err(err).Str("request_id", id).Msg("current-file section skipped")
	}

	if recent, err := budget.BuildRecentFiles(rc.ViewedFiles, opts, c.counter); err == nil {
		req.RecentFiles = recent.Text
		tokens += recent.TokensUsed
		for _, d := range recent.DocsInPrompt {
			if !seen[d] {
				seen[d] = true
				docs = append(docs, d)
			}
		}
	} else if !errors.Is(err, budget.ErrOutOfBudget) {
		log.Warn().Err(err).Str("request_id", id).Msg("recent-files section skipped")
	}

	if rc.History != nil {
		folded := document.FoldEdits(rc.History.EditEntries())
		if diffs, err := budget.BuildDiffHistory(docID, rc.Snapshot.URI, folded, opts, c.counter); err == nil {
			req.DiffHistory = diffs.Text
			tokens += diffs.TokensUsed
		}
	}

	return req, tokens, docs
}

func (c *Coordinator) record(s *Suggestion) {
	outcome := "edit"
	if s.Edit == nil {
		outcome = string(s.Reason)
	}
	c.tracker.RecordPrediction(&monitoring.PredictionEvent{
		RequestID:    s.Telemetry.RequestID,
		Timestamp:    time.Now(),
		DocID:        s.DocID,
		Reuse:        s.Telemetry.Reuse,
		Outcome:      outcome,
		PromptTokens: s.Telemetry.PromptTokens,
		DocsInPrompt: s.Telemetry.DocsInPrompt,
		LatencyMs:    s.Telemetry.Latency.Milliseconds(),
		Error:        s.Message,
	})
}
