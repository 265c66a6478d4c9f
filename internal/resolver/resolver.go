// Package resolver decides node readiness. Given a node and the pending
// deliveries in the execution's mailbox, it either assembles the complete
// input payload for one activation, consuming what must be consumed, or
// reports the node not ready without touching anything.
package resolver

import (
	"fmt"
	"sort"

	"github.com/vk/agentgridgo/internal/ctyutil"
	"github.com/vk/agentgridgo/internal/graph"
)

// InputSet is the resolved input payload for one node activation, keyed by
// input pin name.
type InputSet map[string]any

// nodePins is the precomputed view the resolver needs per node: declared
// input pins with their required flag, and the incoming links per pin.
type nodePins struct {
	inputs map[string]bool
	links  map[string][]*graph.Link
}

// Resolver answers readiness questions for one graph definition against
// one mailbox. It is safe for concurrent use; all state lives in the
// mailbox and is manipulated under its lock.
type Resolver struct {
	def   *graph.Definition
	mb    *Mailbox
	nodes map[string]*nodePins
}

// New builds a resolver for the definition. The schema source supplies the
// declared pins of each node's block; validation has already guaranteed
// every block resolves.
func New(def *graph.Definition, schemas graph.SchemaSource) (*Resolver, error) {
	r := &Resolver{def: def, mb: NewMailbox(), nodes: make(map[string]*nodePins, len(def.Nodes))}
	for id, n := range def.Nodes {
		ps, err := schemas.BlockPins(n.Block)
		if err != nil {
			return nil, fmt.Errorf("resolver: node %q: %w", id, err)
		}
		r.nodes[id] = &nodePins{inputs: ps.Inputs, links: def.IncomingLinks(id)}
	}
	return r, nil
}

// Mailbox returns the mailbox deliveries go through.
func (r *Resolver) Mailbox() *Mailbox {
	return r.mb
}

// Resolve reports whether the node is ready to activate. When it is, the
// returned InputSet is complete and every consume-once value that fed it
// has been removed from the pending pool, atomically: a dispatch retry can
// never re-consume. When the node is not ready, nothing is consumed.
func (r *Resolver) Resolve(nodeID string) (InputSet, bool) {
	np, ok := r.nodes[nodeID]
	if !ok {
		return nil, false
	}
	node := r.def.Nodes[nodeID]

	r.mb.mu.Lock()
	defer r.mb.mu.Unlock()

	if !r.activatable(nodeID, np) {
		return nil, false
	}

	inputs := make(InputSet, len(np.inputs))
	consume := make(map[pinKey]struct{})

	for pin, required := range np.inputs {
		pk := pinKey{Node: nodeID, Pin: pin}

		// Consume-once values first, in production order.
		if q := r.mb.queues[pk]; len(q) > 0 {
			inputs[pin] = q[0].value
			consume[pk] = struct{}{}
			continue
		}

		// Then the most recent standing value on any static link into the pin.
		if e := r.latestStanding(nodeID, pin, np.links[pin]); e != nil {
			inputs[pin] = e.value
			continue
		}

		// Then the definition-time constant.
		if cv, ok := node.ConstantInput[pin]; ok {
			nv, err := ctyutil.ToNative(cv)
			if err == nil {
				inputs[pin] = nv
				continue
			}
		}

		if required {
			return nil, false
		}
	}

	// All pins satisfied: commit. Pop exactly one value per consuming pin,
	// disarm the priming flag, and remember the high-water sequence so only
	// deliveries newer than this activation can re-trigger the node.
	for pk := range consume {
		r.mb.queues[pk] = r.mb.queues[pk][1:]
	}
	r.mb.primed[nodeID] = false
	r.mb.lastSeq[nodeID] = r.mb.seq
	return inputs, true
}

// activatable reports whether the node has a reason to run: it was primed
// for a delivery-free activation, it has a queued consume-once value, or a
// standing value was produced after its last activation. Caller holds the
// mailbox lock.
func (r *Resolver) activatable(nodeID string, np *nodePins) bool {
	if r.mb.primed[nodeID] {
		return true
	}
	last := r.mb.lastSeq[nodeID]
	for pin := range np.inputs {
		if len(r.mb.queues[pinKey{Node: nodeID, Pin: pin}]) > 0 {
			return true
		}
		for _, l := range np.links[pin] {
			if !l.Static {
				continue
			}
			if e, ok := r.mb.standing[keyOf(l)]; ok && e.seq > last {
				return true
			}
		}
	}
	return false
}

// latestStanding picks the newest standing value among the static links
// feeding the pin. Caller holds the mailbox lock.
func (r *Resolver) latestStanding(nodeID, pin string, links []*graph.Link) *entry {
	var best *entry
	for _, l := range links {
		if !l.Static {
			continue
		}
		if e, ok := r.mb.standing[keyOf(l)]; ok {
			if best == nil || e.seq > best.seq {
				best = e
			}
		}
	}
	return best
}

// Unsatisfied returns the names of the node's required pins that currently
// hold no value from any source. It inspects without consuming and is used
// for the starvation diagnostic when an execution settles out.
func (r *Resolver) Unsatisfied(nodeID string) []string {
	np, ok := r.nodes[nodeID]
	if !ok {
		return nil
	}
	node := r.def.Nodes[nodeID]

	r.mb.mu.Lock()
	defer r.mb.mu.Unlock()

	var missing []string
	for pin, required := range np.inputs {
		if !required {
			continue
		}
		pk := pinKey{Node: nodeID, Pin: pin}
		if len(r.mb.queues[pk]) > 0 {
			continue
		}
		if r.latestStanding(nodeID, pin, np.links[pin]) != nil {
			continue
		}
		if _, ok := node.ConstantInput[pin]; ok {
			continue
		}
		missing = append(missing, pin)
	}
	sort.Strings(missing)
	return missing
}
