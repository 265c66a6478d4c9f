// Package executor defines the boundary to block execution. The engine
// treats a block run as an opaque, possibly slow, possibly failing call;
// everything about how the computation happens lives behind this
// interface.
package executor

import (
	"context"

	"github.com/vk/agentgridgo/internal/resolver"
)

// OutputSet is the payload a block run produced, keyed by output pin name.
type OutputSet map[string]any

// BlockExecutor executes one block activation with fully resolved inputs.
// Implementations must honor ctx cancellation on a best-effort basis; the
// scheduler does not mandate preemption.
type BlockExecutor interface {
	Execute(ctx context.Context, blockType string, inputs resolver.InputSet) (OutputSet, error)
}
