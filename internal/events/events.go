// Package events defines the structured progress events emitted while
// compiling, deploying and verifying contracts.
//
// Each event carries the pipeline stage, a severity kind and a detail
// message. String renders the console line shown to users.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind is the severity of an event.
type Kind string

const (
	Info  Kind = "info"
	Warn  Kind = "warn"
	Error Kind = "error"
)

// Stage is a discrete phase of the deployment pipeline.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageCompiling Stage = "compiling"
	StageDeploying Stage = "deploying"
	StageVerifying Stage = "verifying"
	StageCompleted Stage = "completed"
	StageError     Stage = "error"
)

// Rank orders the forward stages. StageError ranks above everything so that
// it is reachable from any stage.
func (s Stage) Rank() int {
	switch s {
	case StageIdle:
		return 0
	case StageCompiling:
		return 1
	case StageDeploying:
		return 2
	case StageVerifying:
		return 3
	case StageCompleted:
		return 4
	case StageError:
		return 5
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Event is one entry in a pipeline transcript.
type Event struct {
	Seq    int       `json:"seq"`
	Time   time.Time `json:"time"`
	Stage  Stage     `json:"stage"`
	Kind   Kind      `json:"kind"`
	Icon   string    `json:"icon,omitempty"`
	Detail string    `json:"detail"`
}

// String renders the human-readable console line.
func (e Event) String() string {
	if e.Icon == "" {
		return e.Detail
	}
	return e.Icon + " " + e.Detail
}

// Sink receives events. Implementations must be safe for use by one
// pipeline run at a time; Recorder is also safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// Recorder collects events and assigns sequence numbers.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit appends e, stamping Seq and Time.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = len(r.events) + 1
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Lines renders the recorded events as console lines.
func (r *Recorder) Lines() []string {
	evts := r.Events()
	lines := make([]string, len(evts))
	for i, e := range evts {
		lines[i] = e.String()
	}
	return lines
}

// SlogSink mirrors events into a structured logger.
func SlogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(e Event) {
		level := slog.LevelInfo
		switch e.Kind {
		case Warn:
			level = slog.LevelWarn
		case Error:
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, "pipeline event",
			"stage", string(e.Stage),
			"kind", string(e.Kind),
			"detail", e.Detail,
		)
	})
}

// Emitter stamps events for one stage before handing them to a sink.
type Emitter struct {
	sink  Sink
	stage Stage
}

// For returns an Emitter for stage. A nil sink discards.
func For(sink Sink, stage Stage) Emitter {
	if sink == nil {
		sink = Discard
	}
	return Emitter{sink: sink, stage: stage}
}

// Info emits an info event.
func (em Emitter) Info(icon, format string, args ...any) {
	em.emit(Info, icon, format, args...)
}

// Warn emits a warning event.
func (em Emitter) Warn(icon, format string, args ...any) {
	em.emit(Warn, icon, format, args...)
}

// Error emits an error event.
func (em Emitter) Error(icon, format string, args ...any) {
	em.emit(Error, icon, format, args...)
}

func (em Emitter) emit(kind Kind, icon, format string, args ...any) {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	em.sink.Emit(Event{
		Time:   time.Now().UTC(),
		Stage:  em.stage,
		Kind:   kind,
		Icon:   icon,
		Detail: detail,
	})
}
