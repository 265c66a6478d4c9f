// Package text provides the text.template block: it renders a Go
// text/template against a map of variables.
package text

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/agentgridgo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the pins of the text.template block.
type Input struct {
	Template string         `mapstructure:"template"`
	Vars     map[string]any `mapstructure:"vars"`
}

// Output carries the rendered result.
type Output struct {
	Rendered string `mapstructure:"rendered"`
}

// OnRun renders the template.
func OnRun(ctx context.Context, input *Input) (*Output, error) {
	tmpl, err := template.New("block").Option("missingkey=error").Parse(input.Template)
	if err != nil {
		return nil, fmt.Errorf("text.template: parse: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, input.Vars); err != nil {
		return nil, fmt.Errorf("text.template: render: %w", err)
	}
	return &Output{Rendered: sb.String()}, nil
}

func (Module) Register(r *registry.Registry) {
	r.Register(&registry.RegisteredBlock{
		Def: &registry.BlockDefinition{
			Type:        "text.template",
			Description: "Renders a Go text/template with the given variables.",
			Inputs: map[string]*registry.InputDefinition{
				"template": {Name: "template", Type: cty.String, Description: "Template source."},
				"vars":     {Name: "vars", Type: cty.Map(cty.DynamicPseudoType), Description: "Template variables.", Optional: true},
			},
			Outputs: map[string]*registry.OutputDefinition{
				"rendered": {Name: "rendered", Type: cty.String, Description: "Rendered text."},
			},
		},
		NewInput: func() any { return &Input{} },
		Fn:       OnRun,
	})
}
