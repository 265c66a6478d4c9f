package app

import (
	"context"
	"errors"

	"github.com/vk/agentgridgo/internal/ctxlog"
	"github.com/vk/agentgridgo/internal/execstore"
	"github.com/vk/agentgridgo/internal/ledger"
	"github.com/vk/agentgridgo/internal/metrics"
)

// balanceAdmission refuses to dispatch nodes for users whose active
// balance cannot cover one more node. The scheduler keeps the node QUEUED
// and re-asks, so a top-up mid-run unblocks the execution.
type balanceAdmission struct {
	ledger  ledger.Ledger
	userID  string
	cost    int64
	metrics *metrics.Metrics
}

func (b *balanceAdmission) MayDispatch(ctx context.Context, ne *execstore.NodeExecution) bool {
	bal, err := b.ledger.Balance(ctx, b.userID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Balance check failed, holding node.",
			"node_execution_id", ne.ID, "error", err)
		return false
	}
	if bal < b.cost {
		b.metrics.ObserveInsufficientBalance()
		return false
	}
	return true
}

// nodeBilling debits one node's worth of credits after the node completed.
// The debit references the execution and node for audit.
type nodeBilling struct {
	ledger  ledger.Ledger
	userID  string
	cost    int64
	metrics *metrics.Metrics
}

func (b *nodeBilling) ChargeNode(ctx context.Context, exec *execstore.GraphExecution, ne *execstore.NodeExecution) error {
	_, err := b.ledger.Debit(ctx, b.userID, b.cost, ledger.TypeUsage, map[string]any{
		"execution_id":      exec.ID,
		"node_execution_id": ne.ID,
		"node_id":           ne.NodeID,
	})
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		// The admission gate races with concurrent spenders; the node's
		// work is already done, so record the miss and let the gate block
		// further dispatch.
		b.metrics.ObserveInsufficientBalance()
	}
	return err
}
