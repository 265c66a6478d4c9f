package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.True(t, Valid(a))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("0f2d2aee-98f6-4b28-9c63-2cf30b79025e"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-uuid"))
}
