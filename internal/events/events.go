// Package events provides fire-and-forget event emission for the
// scheduler and the ledger. Nothing in the engine reads these events back;
// they exist for outbound notification and analytics consumers, delivered
// with at-least-once semantics by the Redis emitter and best-effort by the
// in-process one.
package events

import (
	"context"
	"sync"
	"time"
)

// Event is one emitted record. Payload is opaque to the engine.
type Event struct {
	Kind    string         `json:"kind"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Emitter publishes events. Emit must never block the caller's critical
// path and must never return an error; a lost event is acceptable, a
// stalled scheduler is not.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Buffer is an in-process emitter that retains events in a bounded ring.
// When the buffer is full the oldest event is dropped. It doubles as the
// test double for asserting on emitted events.
type Buffer struct {
	mu      sync.Mutex
	events  []Event
	max     int
	dropped int
}

// NewBuffer creates a buffer retaining up to max events.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1024
	}
	return &Buffer{max: max}
}

func (b *Buffer) Emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == b.max {
		b.events = b.events[1:]
		b.dropped++
	}
	b.events = append(b.events, e)
}

// Events returns a snapshot of the retained events in emission order.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Dropped returns how many events were evicted unread.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
