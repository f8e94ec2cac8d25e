package events

import (
	"sync"

	"optionclear/core/types"
)

// Event represents a structured state change emitted by the clearing engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the
// canonical attribute form persisted by sinks.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer holds events until the surrounding call commits. Events from a call
// that fails are dropped with Reset.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

// Emit queues the event.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Len reports the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reset drops every queued event.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Flush forwards the queued events in emission order and empties the buffer.
func (b *Buffer) Flush(dst Emitter) []Event {
	b.mu.Lock()
	flushed := b.pending
	b.pending = nil
	b.mu.Unlock()
	if dst == nil {
		return flushed
	}
	for _, evt := range flushed {
		dst.Emit(evt)
	}
	return flushed
}

// Fanout forwards each event to every configured emitter.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, dst := range f {
		if dst != nil {
			dst.Emit(evt)
		}
	}
}
