package hcl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const sampleGrid = `
graph "report" {
  description = "daily report pipeline"

  node "render" {
    block = "text.template"
    constant {
      template = "total: ${total}"
    }
  }

  node "total" {
    block = "math.sum"
    constant {
      values = [1, 2, 3]
    }
  }

  link {
    from = "total.sum"
    to   = "render.vars"
  }

  link {
    from   = "render.rendered"
    to     = "total.values"
    static = true
  }
}
`

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(sampleGrid), "test.hcl")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "report", def.Name)
	assert.Equal(t, "daily report pipeline", def.Description)
	assert.Empty(t, def.ID, "IDs are assigned at publish time, not load time")

	require.Len(t, def.Nodes, 2)
	render := def.Nodes["render"]
	require.NotNil(t, render)
	assert.Equal(t, "text.template", render.Block)
	assert.Equal(t, cty.StringVal("total: ${total}"), render.ConstantInput["template"])

	total := def.Nodes["total"]
	require.NotNil(t, total)
	vals := total.ConstantInput["values"]
	require.True(t, vals.Type().IsTupleType())
	assert.Equal(t, 3, vals.LengthInt())

	require.Len(t, def.Links, 2)
	assert.Equal(t, "total", def.Links[0].SourceNode)
	assert.Equal(t, "sum", def.Links[0].SourcePin)
	assert.Equal(t, "render", def.Links[0].SinkNode)
	assert.Equal(t, "vars", def.Links[0].SinkPin)
	assert.False(t, def.Links[0].Static)
	assert.True(t, def.Links[1].Static)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name, src, wantErr string
	}{
		{
			name:    "syntactically broken",
			src:     `graph "x" {`,
			wantErr: "parsing",
		},
		{
			name:    "no graphs",
			src:     ``,
			wantErr: "declares no graph blocks",
		},
		{
			name: "node without block type",
			src: `graph "x" {
  node "a" {}
}`,
			wantErr: "Missing required argument",
		},
		{
			name: "duplicate node ids",
			src: `graph "x" {
  node "a" { block = "emit" }
  node "a" { block = "emit" }
}`,
			wantErr: "duplicate node",
		},
		{
			name: "malformed endpoint",
			src: `graph "x" {
  node "a" { block = "emit" }
  link {
    from = "nopin"
    to   = "a.in"
  }
}`,
			wantErr: "form node.pin",
		},
		{
			name: "non-bool static",
			src: `graph "x" {
  node "a" { block = "emit" }
  link {
    from   = "a.out"
    to     = "a.in"
    static = "yes"
  }
}`,
			wantErr: "static must be a bool",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.src), "test.hcl")
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleGrid), 0o644))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = LoadFile(filepath.Join(dir, "missing.hcl"))
	assert.ErrorContains(t, err, "reading")
}
