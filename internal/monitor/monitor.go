// Package monitor tracks accept/reject/ignore history for a session and
// derives the request timing policy from it.
//
// DESIGN: Two independently capped windows over the same history:
//   - scoring window: includes ignored actions (up to configured caps),
//     drives the happiness score and the aggressiveness tier
//   - timing window: accept/reject only, drives the debounce duration
//
// Pure in-memory state; no I/O. The caller persists records elsewhere if it
// wants warm starts.
package monitor

import (
	"math"
	"sync"
	"time"
)

// Kind classifies a user interaction with a shown suggestion.
type Kind string

const (
	Accepted Kind = "accepted"
	Rejected Kind = "rejected"
	Ignored  Kind = "ignored"
)

// Record is one interaction.
type Record struct {
	When time.Time `json:"when"`
	Kind Kind      `json:"kind"`
}

// Level is the aggressiveness tier for issuing requests.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Config contains the tuning knobs. The numeric defaults are policy values,
// not correctness contracts.
type Config struct {
	ScoringWindowSize     int `yaml:"scoring_window_size"`
	TimingWindowSize      int `yaml:"timing_window_size"`
	MaxIgnored            int `yaml:"max_ignored"`             // total ignores admitted to the scoring window
	MaxConsecutiveIgnored int `yaml:"max_consecutive_ignored"` // consecutive ignores admitted

	AcceptScore float64 `yaml:"accept_score"`
	RejectScore float64 `yaml:"reject_score"`
	IgnoreScore float64 `yaml:"ignore_score"`

	LowThreshold  float64 `yaml:"low_threshold"`  // below: Low
	HighThreshold float64 `yaml:"high_threshold"` // at or above: High

	// Override forces the tier regardless of history. Empty means none.
	Override Level `yaml:"override,omitempty"`

	BaseDebounce  time.Duration `yaml:"base_debounce"`
	MinDebounce   time.Duration `yaml:"min_debounce"`
	MaxDebounce   time.Duration `yaml:"max_debounce"`
	DecayHalfLife time.Duration `yaml:"decay_half_life"`
	AcceptImpact  float64       `yaml:"accept_impact"` // subtracted from the debounce factor
	RejectImpact  float64       `yaml:"reject_impact"` // added to the debounce factor
}

// WithDefaults fills in zero fields.
func WithDefaults(c Config) Config {
	if c.ScoringWindowSize == 0 {
		c.ScoringWindowSize = 20
	}
	if c.TimingWindowSize == 0 {
		c.TimingWindowSize = 10
	}
	if c.MaxIgnored == 0 {
		c.MaxIgnored = 5
	}
	if c.MaxConsecutiveIgnored == 0 {
		c.MaxConsecutiveIgnored = 3
	}
	if c.AcceptScore == 0 {
		c.AcceptScore = 1.0
	}
	if c.IgnoreScore == 0 {
		c.IgnoreScore = 0.25
	}
	if c.LowThreshold == 0 {
		c.LowThreshold = 0.35
	}
	if c.HighThreshold == 0 {
		c.HighThreshold = 0.65
	}
	if c.BaseDebounce == 0 {
		c.BaseDebounce = 200 * time.Millisecond
	}
	if c.MinDebounce == 0 {
		c.MinDebounce = 50 * time.Millisecond
	}
	if c.MaxDebounce == 0 {
		c.MaxDebounce = 3 * time.Second
	}
	if c.DecayHalfLife == 0 {
		c.DecayHalfLife = 10 * time.Minute
	}
	if c.AcceptImpact == 0 {
		c.AcceptImpact = 0.15
	}
	if c.RejectImpact == 0 {
		c.RejectImpact = 0.5
	}
	return c
}

// Monitor holds the interaction history for one session.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	history []Record // oldest first
}

// New creates a monitor with defaults applied to cfg.
func New(cfg Config) *Monitor {
	return &Monitor{cfg: WithDefaults(cfg)}
}

// Observe records an interaction happening now.
func (m *Monitor) Observe(kind Kind) {
	m.ObserveAt(kind, time.Now())
}

// ObserveAt records an interaction at an explicit time.
func (m *Monitor) ObserveAt(kind Kind, when time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, Record{When: when, Kind: kind})

	// Retain enough history to backfill past skipped ignores.
	max := 4 * m.cfg.ScoringWindowSize
	if len(m.history) > max {
		m.history = m.history[len(m.history)-max:]
	}
}

// Seed replaces the history with persisted records, oldest first.
func (m *Monitor) Seed(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]Record(nil), records...)
}

// HappinessScore returns the position-weighted happiness in [0,1]. Later
// actions weigh linearly more. The raw weighted average is pulled toward the
// neutral 0.5 in proportion to how few records filled the window, so a
// single action cannot produce an extreme score.
func (m *Monitor) HappinessScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.scoringWindow()
	if len(window) == 0 {
		return 0.5
	}

	var weighted, total float64
	for i, r := range window {
		w := float64(i + 1)
		weighted += w * m.actionScore(r.Kind)
		total += w
	}
	raw := weighted / total

	confidence := float64(len(window)) / float64(m.cfg.ScoringWindowSize)
	if confidence > 1 {
		confidence = 1
	}
	return 0.5 + (raw-0.5)*confidence
}

// AggressivenessLevel maps the happiness score to a tier, unless a hard
// override is configured.
func (m *Monitor) AggressivenessLevel() Level {
	if m.cfg.Override != "" {
		return m.cfg.Override
	}
	score := m.HappinessScore()
	switch {
	case score < m.cfg.LowThreshold:
		return LevelLow
	case score >= m.cfg.HighThreshold:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// Debounce returns how long to wait after a keystroke before issuing a
// request. Each timing-window action's influence decays exponentially with
// age; rejections push the debounce up more than acceptances pull it down.
func (m *Monitor) Debounce() time.Duration {
	return m.DebounceAt(time.Now())
}

// DebounceAt computes the debounce as of a given instant.
func (m *Monitor) DebounceAt(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	factor := 1.0
	seen := 0
	for i := len(m.history) - 1; i >= 0 && seen < m.cfg.TimingWindowSize; i-- {
		r := m.history[i]
		if r.Kind == Ignored {
			continue
		}
		seen++
		age := now.Sub(r.When)
		if age < 0 {
			age = 0
		}
		decay := math.Exp2(-age.Seconds() / m.cfg.DecayHalfLife.Seconds())
		switch r.Kind {
		case Accepted:
			factor -= m.cfg.AcceptImpact * decay
		case Rejected:
			factor += m.cfg.RejectImpact * decay
		}
	}

	d := time.Duration(float64(m.cfg.BaseDebounce) * factor)
	if d < m.cfg.MinDebounce {
		d = m.cfg.MinDebounce
	}
	if d > m.cfg.MaxDebounce {
		d = m.cfg.MaxDebounce
	}
	return d
}

// scoringWindow selects records newest-to-oldest, skipping ignored actions
// once the consecutive or total cap is hit but continuing further back to
// backfill scored data, then returns them oldest first.
func (m *Monitor) scoringWindow() []Record {
	var selected []Record
	consecutiveIgnored, totalIgnored := 0, 0

	for i := len(m.history) - 1; i >= 0 && len(selected) < m.cfg.ScoringWindowSize; i-- {
		r := m.history[i]
		if r.Kind == Ignored {
			if consecutiveIgnored >= m.cfg.MaxConsecutiveIgnored || totalIgnored >= m.cfg.MaxIgnored {
				continue
			}
			consecutiveIgnored++
			totalIgnored++
		} else {
			consecutiveIgnored = 0
		}
		selected = append(selected, r)
	}

	// Reverse to chronological order for position weighting.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected
}

func (m *Monitor) actionScore(k Kind) float64 {
	switch k {
	case Accepted:
		return m.cfg.AcceptScore
	case Rejected:
		return m.cfg.RejectScore
	default:
		return m.cfg.IgnoreScore
	}
}
