package resolver

import (
	"sync"

	"github.com/vk/agentgridgo/internal/graph"
)

// pinKey addresses the pending-value pool of one input pin.
type pinKey struct {
	Node string
	Pin  string
}

// linkKey addresses one exact link, so a standing value can be replaced
// only by a newer production on the same link.
type linkKey struct {
	SourceNode string
	SourcePin  string
	SinkNode   string
	SinkPin    string
}

func keyOf(l *graph.Link) linkKey {
	return linkKey{SourceNode: l.SourceNode, SourcePin: l.SourcePin, SinkNode: l.SinkNode, SinkPin: l.SinkPin}
}

// entry is one delivered value. seq is a mailbox-global production counter
// that gives first-produced-first-consumed ordering within a pin and
// newest-wins selection among standing values.
type entry struct {
	value any
	seq   uint64
}

// Mailbox is the pending-input pool of one graph execution. Values
// delivered over non-static links queue per (sink node, sink pin) and are
// consumed exactly once; values delivered over static links stand per link
// and are re-read by every subsequent activation of the sink.
//
// Re-activation is gated on new deliveries: lastSeq records the global
// sequence at a node's most recent activation, so a node fed purely by
// standing values activates once per production instead of spinning.
type Mailbox struct {
	mu       sync.Mutex
	seq      uint64
	queues   map[pinKey][]*entry
	standing map[linkKey]*entry
	lastSeq  map[string]uint64
	primed   map[string]bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		queues:   make(map[pinKey][]*entry),
		standing: make(map[linkKey]*entry),
		lastSeq:  make(map[string]uint64),
		primed:   make(map[string]bool),
	}
}

// Deliver records a value produced on the given link.
func (m *Mailbox) Deliver(l *graph.Link, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e := &entry{value: value, seq: m.seq}
	if l.Static {
		m.standing[keyOf(l)] = e
	} else {
		pk := pinKey{Node: l.SinkNode, Pin: l.SinkPin}
		m.queues[pk] = append(m.queues[pk], e)
	}
}

// DeliverTrigger records an initiating value for a node's pin, outside any
// link. Trigger values are consume-once, like a non-static delivery.
func (m *Mailbox) DeliverTrigger(node, pin string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	pk := pinKey{Node: node, Pin: pin}
	m.queues[pk] = append(m.queues[pk], &entry{value: value, seq: m.seq})
}

// Prime arms a node for an activation that needs no inbound delivery.
// Entry nodes, which run from constants alone, are primed at seed time.
func (m *Mailbox) Prime(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed[node] = true
}
