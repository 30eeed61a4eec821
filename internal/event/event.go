// Package event is the structured progress channel shared by capture,
// replay and the orchestrator. Callers decide how to render it.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Kind classifies an Event.
type Kind string

const (
	KindProgress Kind = "progress"
	KindWarning  Kind = "warning"
	KindFailure  Kind = "failure"
)

// Event is one notification from a running operation.
type Event struct {
	Kind    Kind           `json:"kind"`
	Stage   string         `json:"stage"` // "capture", "record", "plan", "replay"
	PathID  string         `json:"path_id,omitempty"`
	Step    int            `json:"step,omitempty"`
	Message string         `json:"message"`
	Err     string         `json:"error,omitempty"`
	Time    time.Time      `json:"time"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Emit stamps e with the current time when unset and sends it to s.
// A nil sink is allowed.
func Emit(s Sink, e Event) {
	if s == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.Emit(e)
}

// Multi fans every event out to all sinks.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// LogSink renders events through slog: progress at Info, warnings at Warn
// and failures at Error.
func LogSink(l *slog.Logger) Sink {
	return SinkFunc(func(e Event) {
		attrs := []any{"stage", e.Stage}
		if e.PathID != "" {
			attrs = append(attrs, "path", e.PathID)
		}
		if e.Step != 0 {
			attrs = append(attrs, "step", e.Step)
		}
		if e.Err != "" {
			attrs = append(attrs, "err", e.Err)
		}
		for k, v := range e.Fields {
			attrs = append(attrs, k, v)
		}
		switch e.Kind {
		case KindFailure:
			l.Error(e.Message, attrs...)
		case KindWarning:
			l.Warn(e.Message, attrs...)
		default:
			l.Info(e.Message, attrs...)
		}
	})
}

// Recorder collects events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a snapshot of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events have kind k.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
