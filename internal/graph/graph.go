// Package graph defines the immutable, versioned graph model: nodes with
// typed pins, directed links between pins, and the copy-on-write version
// store executions read their structure from.
package graph

import (
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Ref identifies one concrete version of one graph. Graph identity is the
// composite (ID, Version); a bare ID refers to whichever version is active.
type Ref struct {
	ID      string
	Version int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@v%d", r.ID, r.Version)
}

// Definition is an immutable snapshot of one graph version. Once a
// Definition is published it is never mutated; edits allocate a new
// version under the same ID.
type Definition struct {
	ID          string
	Version     int
	Name        string
	Description string

	// ForkedFrom records the (id, version) this graph was forked from.
	// It is a back-reference resolved by lookup, never an owning pointer,
	// and the origin is not required to still exist.
	ForkedFrom *Ref

	// Nodes is keyed by node ID.
	Nodes map[string]*Node
	Links []*Link

	CreatedAt time.Time
}

// Node is one computational unit inside a graph version. It references a
// block by name; the block's declared schema types its pins.
type Node struct {
	ID    string
	Block string

	// ConstantInput holds values bound at definition time. A pin fed by a
	// constant is always satisfiable and is never supplied by a link.
	ConstantInput map[string]cty.Value

	Metadata map[string]string
}

// Link is a directed edge from a named output pin to a named input pin.
type Link struct {
	SourceNode string
	SourcePin  string
	SinkNode   string
	SinkPin    string

	// Static controls delivery semantics. False means the delivered value
	// is consumed exactly once by the sink; true means the value persists
	// and is re-read on every subsequent activation of the sink.
	Static bool
}

func (l *Link) String() string {
	arrow := "->"
	if l.Static {
		arrow = "=>"
	}
	return fmt.Sprintf("%s.%s %s %s.%s", l.SourceNode, l.SourcePin, arrow, l.SinkNode, l.SinkPin)
}

// Ref returns the (id, version) reference for this definition.
func (d *Definition) Ref() Ref {
	return Ref{ID: d.ID, Version: d.Version}
}

// IncomingLinks returns all links terminating at the given node, grouped
// by sink pin name. The per-pin slice order follows Definition.Links,
// which is the order links were declared in.
func (d *Definition) IncomingLinks(nodeID string) map[string][]*Link {
	byPin := make(map[string][]*Link)
	for _, l := range d.Links {
		if l.SinkNode == nodeID {
			byPin[l.SinkPin] = append(byPin[l.SinkPin], l)
		}
	}
	return byPin
}

// OutgoingLinks returns all links originating at the given node.
func (d *Definition) OutgoingLinks(nodeID string) []*Link {
	var out []*Link
	for _, l := range d.Links {
		if l.SourceNode == nodeID {
			out = append(out, l)
		}
	}
	return out
}

// EntryNodes returns the IDs of nodes with no incoming links. These are
// the nodes an execution can activate from constants and trigger input
// alone.
func (d *Definition) EntryNodes() []string {
	incoming := make(map[string]bool)
	for _, l := range d.Links {
		incoming[l.SinkNode] = true
	}
	var entries []string
	for id := range d.Nodes {
		if !incoming[id] {
			entries = append(entries, id)
		}
	}
	return entries
}

// clone produces a deep copy of the definition so a published version can
// never be mutated through a handle the caller kept.
func (d *Definition) clone() *Definition {
	cp := &Definition{
		ID:          d.ID,
		Version:     d.Version,
		Name:        d.Name,
		Description: d.Description,
		Nodes:       make(map[string]*Node, len(d.Nodes)),
		Links:       make([]*Link, len(d.Links)),
		CreatedAt:   d.CreatedAt,
	}
	if d.ForkedFrom != nil {
		origin := *d.ForkedFrom
		cp.ForkedFrom = &origin
	}
	for id, n := range d.Nodes {
		nn := &Node{
			ID:            n.ID,
			Block:         n.Block,
			ConstantInput: make(map[string]cty.Value, len(n.ConstantInput)),
			Metadata:      make(map[string]string, len(n.Metadata)),
		}
		// cty values are immutable, a shallow copy of the map suffices.
		for k, v := range n.ConstantInput {
			nn.ConstantInput[k] = v
		}
		for k, v := range n.Metadata {
			nn.Metadata[k] = v
		}
		cp.Nodes[id] = nn
	}
	for i, l := range d.Links {
		ll := *l
		cp.Links[i] = &ll
	}
	return cp
}
