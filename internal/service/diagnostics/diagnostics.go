// Package diagnostics carries structured, purely observational events out of
// the sync engine. Sinks never influence control flow.
package diagnostics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of an event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event types emitted by the engine.
const (
	TypeRefreshStart     = "refresh_start"
	TypeRefreshSuccess   = "refresh_success"
	TypeRefreshError     = "refresh_error"
	TypeOmissionDetected = "omission_detected"
	TypeLimitSaturated   = "limit_saturated"
	TypeLookupRebuilt    = "lookup_rebuilt"
	TypeSnapshotFallback = "snapshot_fallback"
	TypeOrdersEvicted    = "orders_evicted"
	TypeStoreError       = "store_error"
)

// Event is one diagnostics record.
type Event struct {
	Type    string         `json:"type"`
	Level   Level          `json:"level"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Sink receives events. Emit must not block for long and must not panic.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// SlogSink mirrors events to a structured logger at the matching level.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, event Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, len(event.Payload)+1)
	attrs = append(attrs, slog.String("event", event.Type))
	for key, value := range event.Payload {
		attrs = append(attrs, slog.Any(key, value))
	}
	logger.Log(ctx, slogLevel(event.Level), "diagnostics", attrs...)
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Recorder keeps every event in memory. Used by tests and the CLI summary.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	out := []Event{}
	for _, event := range r.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
