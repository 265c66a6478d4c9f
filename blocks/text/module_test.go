package text

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/agentgridgo/internal/registry"
)

func TestOnRun(t *testing.T) {
	out, err := OnRun(context.Background(), &Input{
		Template: "hello {{.name}}",
		Vars:     map[string]any{"name": "world"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Rendered)

	t.Run("parse errors surface", func(t *testing.T) {
		_, err := OnRun(context.Background(), &Input{Template: "{{"})
		assert.ErrorContains(t, err, "parse")
	})

	t.Run("missing variables are an error", func(t *testing.T) {
		_, err := OnRun(context.Background(), &Input{Template: "{{.missing}}", Vars: map[string]any{}})
		assert.ErrorContains(t, err, "render")
	})
}

func TestRegister(t *testing.T) {
	r := registry.New()
	Module{}.Register(r)
	require.NoError(t, r.Validate())

	b, err := r.Block("text.template")
	require.NoError(t, err)
	assert.True(t, b.Def.Inputs["vars"].Optional)
}
