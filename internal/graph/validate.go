package graph

import (
	"errors"
	"fmt"
)

// ErrInvalid wraps every structural validation failure so callers can
// distinguish malformed graphs from store errors with errors.Is.
var ErrInvalid = errors.New("graph: invalid definition")

// PinSet describes the declared pins of one block: input pin names mapped
// to whether the pin is required, plus the set of output pin names.
type PinSet struct {
	Inputs  map[string]bool
	Outputs map[string]struct{}
}

// SchemaSource resolves a block name to its declared pins. The registry
// implements this; validation never needs the full block definition.
type SchemaSource interface {
	BlockPins(block string) (PinSet, error)
}

// Validate performs the structural checks that must hold before a graph
// version can be published. Runtime never re-checks these: a malformed
// graph is rejected here, before any execution can reference it.
func Validate(def *Definition, schemas SchemaSource) error {
	if len(def.Nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrInvalid)
	}

	pins := make(map[string]PinSet, len(def.Nodes))
	for id, n := range def.Nodes {
		if id != n.ID {
			return fmt.Errorf("%w: node keyed %q carries id %q", ErrInvalid, id, n.ID)
		}
		ps, err := schemas.BlockPins(n.Block)
		if err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrInvalid, id, err)
		}
		pins[id] = ps
		for pin := range n.ConstantInput {
			if _, ok := ps.Inputs[pin]; !ok {
				return fmt.Errorf("%w: node %q binds constant to undeclared input pin %q", ErrInvalid, id, pin)
			}
		}
	}

	linked := make(map[string]map[string]bool) // node -> input pin -> fed by link
	for _, l := range def.Links {
		src, ok := pins[l.SourceNode]
		if !ok {
			return fmt.Errorf("%w: link %s references unknown source node", ErrInvalid, l)
		}
		sink, ok := pins[l.SinkNode]
		if !ok {
			return fmt.Errorf("%w: link %s references unknown sink node", ErrInvalid, l)
		}
		if _, ok := src.Outputs[l.SourcePin]; !ok {
			return fmt.Errorf("%w: link %s references undeclared output pin %q", ErrInvalid, l, l.SourcePin)
		}
		if _, ok := sink.Inputs[l.SinkPin]; !ok {
			return fmt.Errorf("%w: link %s references undeclared input pin %q", ErrInvalid, l, l.SinkPin)
		}
		if linked[l.SinkNode] == nil {
			linked[l.SinkNode] = make(map[string]bool)
		}
		linked[l.SinkNode][l.SinkPin] = true
	}

	// Every required input pin must be reachable: fed by at least one link
	// or bound to a constant. A pin with neither can never be satisfied.
	for id, n := range def.Nodes {
		for pin, required := range pins[id].Inputs {
			if !required {
				continue
			}
			if _, ok := n.ConstantInput[pin]; ok {
				continue
			}
			if linked[id][pin] {
				continue
			}
			return fmt.Errorf("%w: node %q input pin %q has no link and no constant", ErrInvalid, id, pin)
		}
	}

	// Consume-once links must form a DAG: a cycle of them deadlocks on its
	// own first value. Static-only cycles are equally unsatisfiable, since
	// no standing value can ever be produced to break them. A mixed cycle
	// is permitted; the static edge acts as the loop's back-edge.
	if err := detectCycles(def, false); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := detectCycles(def, true); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// detectCycles runs a depth-first search over the subgraph of links whose
// Static flag equals static, using the classic three-set coloring:
// permanent nodes are fully visited and known safe, temporary nodes are on
// the current recursion stack.
func detectCycles(def *Definition, static bool) error {
	succ := make(map[string][]string)
	for _, l := range def.Links {
		if l.Static == static {
			succ[l.SourceNode] = append(succ[l.SourceNode], l.SinkNode)
		}
	}

	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			kind := "consumable"
			if static {
				kind = "static-only"
			}
			return fmt.Errorf("%s cycle detected involving node %q", kind, id)
		}
		temporary[id] = true
		for _, next := range succ[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for id := range def.Nodes {
		if !permanent[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
