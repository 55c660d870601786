package events

import "mintmgr/core/types"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves for RPC and
// receipt consumers.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, receipts).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events for a single invocation. The host only publishes the
// buffered events once the invocation's writes are committed.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	return append([]Event(nil), b.events...)
}

// Rendered converts every buffered payload into its wire form, skipping events
// that cannot render themselves.
func (b *Buffer) Rendered() []types.Event {
	if b == nil {
		return nil
	}
	out := make([]types.Event, 0, len(b.events))
	for _, evt := range b.events {
		payload, ok := evt.(Payload)
		if !ok {
			continue
		}
		if rendered := payload.Event(); rendered != nil {
			out = append(out, *rendered)
		}
	}
	return out
}
