package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type goodInput struct {
	Text string `mapstructure:"text"`
}

type goodOutput struct {
	Result string `mapstructure:"result"`
}

func goodHandler(ctx context.Context, in *goodInput) (*goodOutput, error) {
	return &goodOutput{Result: in.Text}, nil
}

func goodBlock(name string) *RegisteredBlock {
	return &RegisteredBlock{
		Def: &BlockDefinition{
			Type: name,
			Inputs: map[string]*InputDefinition{
				"text": {Name: "text", Type: cty.String},
			},
			Outputs: map[string]*OutputDefinition{
				"result": {Name: "result", Type: cty.String},
			},
		},
		NewInput: func() any { return &goodInput{} },
		Fn:       goodHandler,
	}
}

func TestRegister(t *testing.T) {
	r := New()
	r.Register(goodBlock("test.good"))

	b, err := r.Block("test.good")
	require.NoError(t, err)
	assert.Equal(t, "test.good", b.Def.Type)
	assert.Equal(t, []string{"test.good"}, r.Types())

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.Block("test.ghost")
		assert.ErrorContains(t, err, "unknown block type")
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		assert.Panics(t, func() { r.Register(goodBlock("test.good")) })
	})

	t.Run("missing definition panics", func(t *testing.T) {
		assert.Panics(t, func() { r.Register(&RegisteredBlock{}) })
	})
}

func TestBlockPins(t *testing.T) {
	r := New()
	b := goodBlock("test.good")
	b.Def.Inputs["opt"] = &InputDefinition{Name: "opt", Type: cty.Number, Optional: true}
	// Keep the handler parity intact for this schema-only test.
	b.NewInput = nil
	b.Fn = nil
	r.blocks[b.Def.Type] = b

	ps, err := r.BlockPins("test.good")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"text": true, "opt": false}, ps.Inputs)
	assert.Equal(t, map[string]struct{}{"result": {}}, ps.Outputs)

	_, err = r.BlockPins("test.ghost")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("valid registry passes", func(t *testing.T) {
		r := New()
		r.Register(goodBlock("test.good"))
		assert.NoError(t, r.Validate())
	})

	t.Run("missing handler", func(t *testing.T) {
		r := New()
		b := goodBlock("test.bad")
		b.Fn = nil
		r.Register(b)
		assert.ErrorContains(t, r.Validate(), "no handler function")
	})

	t.Run("wrong handler shape", func(t *testing.T) {
		r := New()
		b := goodBlock("test.bad")
		b.Fn = func(in *goodInput) (*goodOutput, error) { return nil, nil }
		r.Register(b)
		assert.ErrorContains(t, r.Validate(), "func(context.Context, *Input) (*Output, error)")
	})

	t.Run("input type mismatch", func(t *testing.T) {
		r := New()
		b := goodBlock("test.bad")
		b.NewInput = func() any { return &goodOutput{} }
		r.Register(b)
		assert.ErrorContains(t, r.Validate(), "NewInput returns")
	})

	t.Run("undeclared input field", func(t *testing.T) {
		type wideInput struct {
			Text  string `mapstructure:"text"`
			Extra string `mapstructure:"extra"`
		}
		r := New()
		b := goodBlock("test.bad")
		b.NewInput = func() any { return &wideInput{} }
		b.Fn = func(ctx context.Context, in *wideInput) (*goodOutput, error) { return nil, nil }
		r.Register(b)
		assert.ErrorContains(t, r.Validate(), `input pin "extra"`)
	})

	t.Run("declared output with no bound field", func(t *testing.T) {
		r := New()
		b := goodBlock("test.bad")
		b.Def.Outputs["more"] = &OutputDefinition{Name: "more", Type: cty.String}
		r.Register(b)
		assert.ErrorContains(t, r.Validate(), `output pin "more"`)
	})
}
