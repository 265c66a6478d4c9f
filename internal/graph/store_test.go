package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// stubSchemas declares one block type "echo" with a required "in" pin, an
// optional "opt" pin, and an "out" output pin.
type stubSchemas struct{}

func (stubSchemas) BlockPins(block string) (PinSet, error) {
	if block != "echo" {
		return PinSet{}, assert.AnError
	}
	return PinSet{
		Inputs:  map[string]bool{"in": true, "opt": false},
		Outputs: map[string]struct{}{"out": {}},
	}, nil
}

func twoNodeDef() *Definition {
	return &Definition{
		Name: "pair",
		Nodes: map[string]*Node{
			"a": {ID: "a", Block: "echo", ConstantInput: map[string]cty.Value{"in": cty.StringVal("x")}},
			"b": {ID: "b", Block: "echo"},
		},
		Links: []*Link{
			{SourceNode: "a", SourcePin: "out", SinkNode: "b", SinkPin: "in"},
		},
	}
}

func TestStorePublish(t *testing.T) {
	s := NewStore(stubSchemas{})

	ref, err := s.Publish(twoNodeDef())
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, 1, ref.Version)

	t.Run("first version becomes active", func(t *testing.T) {
		def, err := s.Active(ref.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, def.Version)
	})

	t.Run("republishing under the same id appends a version", func(t *testing.T) {
		next := twoNodeDef()
		next.ID = ref.ID
		ref2, err := s.Publish(next)
		require.NoError(t, err)
		assert.Equal(t, ref.ID, ref2.ID)
		assert.Equal(t, 2, ref2.Version)
		assert.Equal(t, 2, s.Versions(ref.ID))

		// Active pointer does not follow new versions automatically.
		def, err := s.Active(ref.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, def.Version)
	})

	t.Run("invalid definitions are rejected", func(t *testing.T) {
		bad := twoNodeDef()
		bad.Nodes["b"].Block = "nope"
		_, err := s.Publish(bad)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestStoreImmutability(t *testing.T) {
	s := NewStore(stubSchemas{})
	src := twoNodeDef()
	ref, err := s.Publish(src)
	require.NoError(t, err)

	// Mutating the caller's definition must not leak into the store.
	src.Nodes["a"].Block = "mutated"
	src.Links[0].SinkPin = "mutated"

	def, err := s.Get(ref.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "echo", def.Nodes["a"].Block)
	assert.Equal(t, "in", def.Links[0].SinkPin)

	// And neither must mutating a fetched snapshot.
	def.Nodes["a"].Block = "mutated-again"
	again, err := s.Get(ref.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "echo", again.Nodes["a"].Block)
}

func TestStoreSetActive(t *testing.T) {
	s := NewStore(stubSchemas{})
	ref, err := s.Publish(twoNodeDef())
	require.NoError(t, err)

	next := twoNodeDef()
	next.ID = ref.ID
	_, err = s.Publish(next)
	require.NoError(t, err)

	require.NoError(t, s.SetActive(ref.ID, 2))
	def, err := s.Active(ref.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)

	assert.ErrorIs(t, s.SetActive(ref.ID, 99), ErrNotFound)
	assert.ErrorIs(t, s.SetActive("unknown", 1), ErrNotFound)
}

func TestStoreFork(t *testing.T) {
	s := NewStore(stubSchemas{})
	ref, err := s.Publish(twoNodeDef())
	require.NoError(t, err)

	forked, err := s.Fork(ref.ID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, ref.ID, forked.ID)
	assert.Equal(t, 1, forked.Version)

	def, err := s.Get(forked.ID, forked.Version)
	require.NoError(t, err)
	require.NotNil(t, def.ForkedFrom)
	assert.Equal(t, ref, *def.ForkedFrom)

	// The fork evolves independently of the origin.
	next := twoNodeDef()
	next.ID = forked.ID
	_, err = s.Publish(next)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Versions(forked.ID))
	assert.Equal(t, 1, s.Versions(ref.ID))

	t.Run("forking an unknown version fails", func(t *testing.T) {
		_, err := s.Fork(ref.ID, 42)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreGetErrors(t *testing.T) {
	s := NewStore(stubSchemas{})
	_, err := s.Get("missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Active("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
