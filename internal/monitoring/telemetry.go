// Package monitoring records prediction telemetry to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per
// line):
//   - PredictionEvent:  every suggestion request, with its reuse kind
//   - InteractionEvent: every accept/reject/ignore on a shown suggestion
//
// Events are appended immediately after each event for real-time analysis.
// The format is opaque to the core beyond the field names it sets.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config          TelemetryConfig
	predictionCount int
	actionCount     int
	mu              sync.Mutex
}

// NewTracker creates a telemetry tracker, ensuring log directories exist.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}
	for _, path := range []string{cfg.LogPath, cfg.ActionsPath} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// RecordPrediction records a suggestion request event.
func (t *Tracker) RecordPrediction(event *PredictionEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		log.Info().
			Str("request_id", event.RequestID).
			Str("reuse", string(event.Reuse)).
			Str("outcome", event.Outcome).
			Int("prompt_tokens", event.PromptTokens).
			Int64("latency_ms", event.LatencyMs).
			Msg("telemetry")
	}

	if t.config.LogPath != "" {
		if err := appendJSONL(t.config.LogPath, event); err != nil {
			log.Error().Err(err).Str("path", t.config.LogPath).Msg("telemetry: failed to write prediction event")
		} else {
			t.predictionCount++
		}
	}
}

// RecordInteraction records an accept/reject/ignore event.
func (t *Tracker) RecordInteraction(event *InteractionEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.ActionsPath != "" {
		if err := appendJSONL(t.config.ActionsPath, event); err != nil {
			log.Error().Err(err).Str("path", t.config.ActionsPath).Msg("telemetry: failed to write interaction event")
		} else {
			t.actionCount++
		}
	}
}

// Stats returns tracker counters.
func (t *Tracker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"enabled":     t.config.Enabled,
		"predictions": t.predictionCount,
		"actions":     t.actionCount,
	}
}
