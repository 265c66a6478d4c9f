package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/agentgridgo/internal/config"
	"github.com/vk/agentgridgo/internal/execstore"
	"github.com/vk/agentgridgo/internal/graph"
	"github.com/vk/agentgridgo/internal/ledger"
	"github.com/vk/agentgridgo/internal/registry"
)

// brokenModule registers a block whose handler has the wrong shape, which
// registry validation must catch.
type brokenModule struct{}

func (brokenModule) Register(r *registry.Registry) {
	r.Register(&registry.RegisteredBlock{
		Def:      &registry.BlockDefinition{Type: "broken.block"},
		NewInput: func() any { return &struct{}{} },
		Fn:       func() {},
	})
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.SettleTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	a := NewApp(io.Discard, cfg)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// sumDef builds a two-node graph: math.sum over constant values feeding a
// flow.passthrough hop.
func sumDef(name string, values ...float64) *graph.Definition {
	vals := make([]cty.Value, len(values))
	for i, v := range values {
		vals[i] = cty.NumberFloatVal(v)
	}
	return &graph.Definition{
		Name: name,
		Nodes: map[string]*graph.Node{
			"total": {
				ID:            "total",
				Block:         "math.sum",
				ConstantInput: map[string]cty.Value{"values": cty.ListVal(vals)},
			},
			"out": {ID: "out", Block: "flow.passthrough"},
		},
		Links: []*graph.Link{
			{SourceNode: "total", SourcePin: "sum", SinkNode: "out", SinkPin: "value"},
		},
	}
}

func nodeExecsByNode(t *testing.T, a *App, execID string) map[string]*execstore.NodeExecution {
	t.Helper()
	nes, err := a.Store().ListNodeExecutions(context.Background(), execID)
	require.NoError(t, err)
	byNode := make(map[string]*execstore.NodeExecution, len(nes))
	for _, ne := range nes {
		byNode[ne.NodeID] = ne
	}
	return byNode
}

func TestStartExecutionCompletes(t *testing.T) {
	a := newTestApp(t, nil)
	ref, err := a.Graphs().Publish(sumDef("totals", 5, 7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	execID, err := a.StartExecution(ctx, ref.ID, 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, a.Wait(ctx, execID))

	exec, err := a.Execution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execstore.StatusCompleted, exec.Status)

	byNode := nodeExecsByNode(t, a, execID)
	require.Len(t, byNode, 2)
	assert.Equal(t, execstore.StatusCompleted, byNode["total"].Status)
	assert.Equal(t, execstore.StatusCompleted, byNode["out"].Status)

	outs, err := a.Store().ListOutputs(ctx, execID, byNode["out"].ID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "value", outs[0].Pin)
	assert.Equal(t, float64(12), outs[0].Payload)
}

func TestStartExecutionVersionSelection(t *testing.T) {
	a := newTestApp(t, nil)
	ref, err := a.Graphs().Publish(sumDef("totals", 1, 2))
	require.NoError(t, err)
	v2 := sumDef("totals", 10, 20)
	v2.ID = ref.ID
	_, err = a.Graphs().Publish(v2)
	require.NoError(t, err)
	require.NoError(t, a.Graphs().SetActive(ref.ID, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runAndReadSum := func(version int) float64 {
		execID, err := a.StartExecution(ctx, ref.ID, version, "", nil)
		require.NoError(t, err)
		require.NoError(t, a.Wait(ctx, execID))
		byNode := nodeExecsByNode(t, a, execID)
		outs, err := a.Store().ListOutputs(ctx, execID, byNode["out"].ID)
		require.NoError(t, err)
		require.Len(t, outs, 1)
		return outs[0].Payload.(float64)
	}

	t.Run("active version", func(t *testing.T) {
		assert.Equal(t, float64(30), runAndReadSum(0))
	})
	t.Run("pinned version", func(t *testing.T) {
		assert.Equal(t, float64(3), runAndReadSum(1))
	})
	t.Run("unknown version", func(t *testing.T) {
		_, err := a.StartExecution(ctx, ref.ID, 9, "", nil)
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})
}

func TestStartExecutionUnknownGraph(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.StartExecution(context.Background(), "no-such-graph", 0, "", nil)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestBillingChargesPerCompletedNode(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) { cfg.NodeCost = 3 })
	ref, err := a.Graphs().Publish(sumDef("totals", 5, 7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = a.Ledger().Credit(ctx, "alice", 10, ledger.TypeGrant, nil)
	require.NoError(t, err)

	execID, err := a.StartExecution(ctx, ref.ID, 0, "alice", nil)
	require.NoError(t, err)
	require.NoError(t, a.Wait(ctx, execID))

	exec, err := a.Execution(ctx, execID)
	require.NoError(t, err)
	require.Equal(t, execstore.StatusCompleted, exec.Status)

	bal, err := a.Ledger().Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(4), bal, "two completed nodes at cost 3 each")

	hist, err := a.Ledger().History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	charged := map[string]bool{}
	for _, tx := range hist[1:] {
		assert.Equal(t, ledger.TypeUsage, tx.Type)
		assert.Equal(t, int64(-3), tx.Amount)
		assert.Equal(t, execID, tx.Metadata["execution_id"])
		charged[tx.Metadata["node_id"].(string)] = true
	}
	assert.True(t, charged["total"])
	assert.True(t, charged["out"])
}

func TestBillingDisabledWithoutUser(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) { cfg.NodeCost = 3 })
	ref, err := a.Graphs().Publish(sumDef("totals", 1, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	execID, err := a.StartExecution(ctx, ref.ID, 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, a.Wait(ctx, execID))

	exec, err := a.Execution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execstore.StatusCompleted, exec.Status)
}

func TestBalanceGateHoldsUntilCredited(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.NodeCost = 2
		cfg.SettleTimeout = 10 * time.Second
	})
	ref, err := a.Graphs().Publish(sumDef("totals", 2, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// bob has no balance: nodes queue but are never dispatched.
	execID, err := a.StartExecution(ctx, ref.ID, 0, "bob", nil)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	exec, err := a.Execution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execstore.StatusRunning, exec.Status, "execution should be held, not failed")

	_, err = a.Ledger().Credit(ctx, "bob", 50, ledger.TypeTopUp, nil)
	require.NoError(t, err)

	require.NoError(t, a.Wait(ctx, execID))
	exec, err = a.Execution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execstore.StatusCompleted, exec.Status)

	bal, err := a.Ledger().Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(46), bal)
}

func TestTerminateExecution(t *testing.T) {
	a := newTestApp(t, nil)
	def := sumDef("slow", 1, 1)
	def.Nodes["out"].ConstantInput = map[string]cty.Value{
		"delay_ms": cty.NumberIntVal(30_000),
	}
	ref, err := a.Graphs().Publish(def)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	execID, err := a.StartExecution(ctx, ref.ID, 0, "", nil)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, a.TerminateExecution(execID))
	require.NoError(t, a.Wait(ctx, execID))

	exec, err := a.Execution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execstore.StatusTerminated, exec.Status)
}

func TestControlsRejectUnknownExecution(t *testing.T) {
	a := newTestApp(t, nil)
	assert.Error(t, a.TerminateExecution("ghost"))
	assert.Error(t, a.InjectInput("ghost", "node", "pin", 1))
}

func TestWaitOnFinishedExecution(t *testing.T) {
	a := newTestApp(t, nil)
	ref, err := a.Graphs().Publish(sumDef("totals", 1, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	execID, err := a.StartExecution(ctx, ref.ID, 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, a.Wait(ctx, execID))
	// A second Wait on a finished execution returns immediately.
	require.NoError(t, a.Wait(ctx, execID))
}

func TestNewAppPanicsOnBrokenRegistry(t *testing.T) {
	assert.Panics(t, func() {
		NewApp(io.Discard, config.Default(), brokenModule{})
	})
}
