// Package monitoring - types.go defines shared telemetry types.
package monitoring

import (
	"time"

	"github.com/compresr/nextedit/internal/document"
)

// ReuseKind tells downstream analysis how a suggestion was served.
type ReuseKind string

const (
	// ReuseFresh is a request issued directly against the backend.
	ReuseFresh ReuseKind = "fresh"
	// ReuseSpeculative joined a still-in-flight speculative call.
	ReuseSpeculative ReuseKind = "speculative_reuse"
	// ReuseCacheHit adopted an already-completed speculative result.
	ReuseCacheHit ReuseKind = "speculative_cache_hit"
)

// PredictionEvent captures one suggestion request end to end.
type PredictionEvent struct {
	RequestID    string        `json:"request_id"`
	Timestamp    time.Time     `json:"timestamp"`
	DocID        document.ID   `json:"doc_id"`
	Reuse        ReuseKind     `json:"reuse"`
	Outcome      string        `json:"outcome"` // "edit" or a terminal reason
	PromptTokens int           `json:"prompt_tokens"`
	DocsInPrompt []document.ID `json:"docs_in_prompt,omitempty"`
	LatencyMs    int64         `json:"latency_ms"`
	Error        string        `json:"error,omitempty"`
}

// InteractionEvent captures one user action on a shown suggestion.
type InteractionEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	DocID     document.ID `json:"doc_id"`
	Kind      string      `json:"kind"`
	Reason    string      `json:"reason,omitempty"` // ignore reason, when applicable
}

// TelemetryConfig controls the tracker.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`     // prediction events (JSONL)
	ActionsPath string `yaml:"actions_path"` // interaction events (JSONL)
	LogToStdout bool   `yaml:"log_to_stdout"`
}
