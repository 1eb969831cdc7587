package events

import "coharvest/core/types"

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Typed is implemented by events that can render themselves as a generic
// attribute map for transports.
type Typed interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. websocket
// streams, outboxes, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans every event out to each non-nil emitter in order.
type Multi []Emitter

func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(evt Event) { f(evt) }

// Render converts an event into its generic form. Events that do not
// implement Typed render with their type and no attributes.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if typed, ok := evt.(Typed); ok {
		return typed.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
