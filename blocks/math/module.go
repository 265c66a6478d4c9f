// Package math provides small arithmetic blocks: math.sum reduces a list
// of numbers, math.scale multiplies a value by a standing factor.
package math

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/agentgridgo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// SumInput defines the pins of the math.sum block.
type SumInput struct {
	Values []float64 `mapstructure:"values"`
}

// SumOutput carries the reduced result.
type SumOutput struct {
	Sum float64 `mapstructure:"sum"`
}

// OnRunSum adds up the input values.
func OnRunSum(ctx context.Context, input *SumInput) (*SumOutput, error) {
	var total float64
	for _, v := range input.Values {
		total += v
	}
	return &SumOutput{Sum: total}, nil
}

// ScaleInput defines the pins of the math.scale block. The factor is
// typically fed over a static link so every value is scaled by the latest
// standing factor.
type ScaleInput struct {
	Value  float64 `mapstructure:"value"`
	Factor float64 `mapstructure:"factor"`
}

// ScaleOutput carries the scaled value.
type ScaleOutput struct {
	Scaled float64 `mapstructure:"scaled"`
}

// OnRunScale multiplies value by factor.
func OnRunScale(ctx context.Context, input *ScaleInput) (*ScaleOutput, error) {
	return &ScaleOutput{Scaled: input.Value * input.Factor}, nil
}

func (Module) Register(r *registry.Registry) {
	r.Register(&registry.RegisteredBlock{
		Def: &registry.BlockDefinition{
			Type:        "math.sum",
			Description: "Adds up a list of numbers.",
			Inputs: map[string]*registry.InputDefinition{
				"values": {Name: "values", Type: cty.List(cty.Number), Description: "Numbers to add."},
			},
			Outputs: map[string]*registry.OutputDefinition{
				"sum": {Name: "sum", Type: cty.Number, Description: "The total."},
			},
		},
		NewInput: func() any { return &SumInput{} },
		Fn:       OnRunSum,
	})
	r.Register(&registry.RegisteredBlock{
		Def: &registry.BlockDefinition{
			Type:        "math.scale",
			Description: "Multiplies a value by a factor.",
			Inputs: map[string]*registry.InputDefinition{
				"value":  {Name: "value", Type: cty.Number, Description: "Value to scale."},
				"factor": {Name: "factor", Type: cty.Number, Description: "Multiplier."},
			},
			Outputs: map[string]*registry.OutputDefinition{
				"scaled": {Name: "scaled", Type: cty.Number, Description: "value * factor."},
			},
		},
		NewInput: func() any { return &ScaleInput{} },
		Fn:       OnRunScale,
	})
}
