package registry

import (
	"fmt"
	"log/slog"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/agentgridgo/internal/graph"
)

// Module is the interface packages under blocks/ implement to contribute
// their block definitions and handlers to a registry.
type Module interface {
	Register(r *Registry)
}

// InputDefinition declares a single input pin on a block.
type InputDefinition struct {
	Name        string
	Type        cty.Type
	Description string
	Optional    bool
}

// OutputDefinition declares a single output pin on a block.
type OutputDefinition struct {
	Name        string
	Type        cty.Type
	Description string
}

// BlockDefinition is the declared contract of one block type.
type BlockDefinition struct {
	Type        string
	Description string
	Inputs      map[string]*InputDefinition
	Outputs     map[string]*OutputDefinition
}

// RegisteredBlock pairs a block definition with its compiled Go parts.
// NewInput returns a pointer to a fresh input struct for the handler; Fn
// must have the shape func(context.Context, *Input) (*Output, error).
// Struct fields bind to pins through their mapstructure tags.
type RegisteredBlock struct {
	Def      *BlockDefinition
	NewInput func() any
	Fn       any
}

// Registry holds all registered blocks for one application instance.
type Registry struct {
	blocks map[string]*RegisteredBlock
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{blocks: make(map[string]*RegisteredBlock)}
}

// Register adds a block under its declared type name. Registering the same
// type twice is a programmer error and panics.
func (r *Registry) Register(b *RegisteredBlock) {
	if b.Def == nil || b.Def.Type == "" {
		panic("registry: block registered without a definition type")
	}
	if _, exists := r.blocks[b.Def.Type]; exists {
		panic(fmt.Sprintf("registry: block type %q already registered", b.Def.Type))
	}
	slog.Debug("Registering block.", "type", b.Def.Type)
	r.blocks[b.Def.Type] = b
}

// Block returns the registered block for the given type name.
func (r *Registry) Block(blockType string) (*RegisteredBlock, error) {
	b, ok := r.blocks[blockType]
	if !ok {
		return nil, fmt.Errorf("registry: unknown block type %q", blockType)
	}
	return b, nil
}

// Types returns the registered block type names, in no particular order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.blocks))
	for t := range r.blocks {
		out = append(out, t)
	}
	return out
}

// BlockPins implements graph.SchemaSource so graph validation can check
// link endpoints and constant bindings against declared pins.
func (r *Registry) BlockPins(blockType string) (graph.PinSet, error) {
	b, ok := r.blocks[blockType]
	if !ok {
		return graph.PinSet{}, fmt.Errorf("unknown block type %q", blockType)
	}
	ps := graph.PinSet{
		Inputs:  make(map[string]bool, len(b.Def.Inputs)),
		Outputs: make(map[string]struct{}, len(b.Def.Outputs)),
	}
	for name, in := range b.Def.Inputs {
		ps.Inputs[name] = !in.Optional
	}
	for name := range b.Def.Outputs {
		ps.Outputs[name] = struct{}{}
	}
	return ps, nil
}
