package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edgecheck/edgecheck/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes each event as a structured log line.
type LogRecorder struct {
	Logger logrus.FieldLogger
}

func (l LogRecorder) Record(event types.Event) {
	if l.Logger == nil {
		return
	}
	fields := logrus.Fields{"event": string(event.Type)}
	if event.SessionID != "" {
		fields["session"] = event.SessionID
	}
	if event.State != "" {
		fields["state"] = string(event.State)
	}
	for k, v := range event.Details {
		fields[k] = v
	}
	entry := l.Logger.WithFields(fields)
	switch event.Type {
	case types.EventTraceFailed, types.EventClientLookupFailed, types.EventCatalogUnavailable, types.EventRoutingWarning:
		entry.Warn("diagnostic event")
	default:
		entry.Info("diagnostic event")
	}
}

// Buffer keeps recorded events in memory.
type Buffer struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *Buffer) Record(event types.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (b *Buffer) Events() []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Event(nil), b.events...)
}

// Types lists the recorded event types in order.
func (b *Buffer) Types() []types.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}
