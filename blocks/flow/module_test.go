package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/agentgridgo/internal/registry"
)

func TestOnRun(t *testing.T) {
	out, err := OnRun(context.Background(), &Input{Value: 42})
	require.NoError(t, err)
	assert.Equal(t, 42, out.Value)

	t.Run("delay honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := OnRun(ctx, &Input{Value: "x", DelayMS: 10_000})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRegister(t *testing.T) {
	r := registry.New()
	Module{}.Register(r)
	require.NoError(t, r.Validate())
}
