// Package flow provides plumbing blocks with no computation of their own:
// flow.passthrough forwards a value unchanged, optionally after a delay.
// It is useful as a join point and in tests that need an observable hop.
package flow

import (
	"context"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/agentgridgo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the pins of the flow.passthrough block.
type Input struct {
	Value   any   `mapstructure:"value"`
	DelayMS int64 `mapstructure:"delay_ms"`
}

// Output forwards the value.
type Output struct {
	Value any `mapstructure:"value"`
}

// OnRun forwards the input value, honoring cancellation during the delay.
func OnRun(ctx context.Context, input *Input) (*Output, error) {
	if input.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(input.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Output{Value: input.Value}, nil
}

func (Module) Register(r *registry.Registry) {
	r.Register(&registry.RegisteredBlock{
		Def: &registry.BlockDefinition{
			Type:        "flow.passthrough",
			Description: "Forwards a value unchanged, optionally delayed.",
			Inputs: map[string]*registry.InputDefinition{
				"value":    {Name: "value", Type: cty.DynamicPseudoType, Description: "Value to forward."},
				"delay_ms": {Name: "delay_ms", Type: cty.Number, Description: "Delay before forwarding.", Optional: true},
			},
			Outputs: map[string]*registry.OutputDefinition{
				"value": {Name: "value", Type: cty.DynamicPseudoType, Description: "The forwarded value."},
			},
		},
		NewInput: func() any { return &Input{} },
		Fn:       OnRun,
	})
}
