package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreditDebit(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(nil)

	tx, err := l.Credit(ctx, "alice", 100, TypeTopUp, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), tx.Amount)
	assert.Equal(t, int64(100), tx.RunningBalance)
	assert.True(t, tx.IsActive)
	assert.NotEmpty(t, tx.Key)

	tx, err = l.Debit(ctx, "alice", 30, TypeUsage, map[string]any{"execution_id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, int64(-30), tx.Amount, "debits are stored negative")
	assert.Equal(t, int64(70), tx.RunningBalance)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)

	t.Run("users are isolated", func(t *testing.T) {
		bal, err := l.Balance(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, bal)
	})

	t.Run("non-positive amounts are rejected", func(t *testing.T) {
		_, err := l.Credit(ctx, "alice", 0, TypeTopUp, nil)
		assert.ErrorContains(t, err, "must be positive")
		_, err = l.Debit(ctx, "alice", -5, TypeUsage, nil)
		assert.ErrorContains(t, err, "must be positive")
	})
}

func TestMemoryInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(nil)

	_, err := l.Credit(ctx, "alice", 10, TypeGrant, nil)
	require.NoError(t, err)

	_, err = l.Debit(ctx, "alice", 11, TypeUsage, nil)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// A rejected debit must not append a row.
	hist, err := l.History(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)

	// Draining to exactly zero is allowed.
	_, err = l.Debit(ctx, "alice", 10, TypeUsage, nil)
	require.NoError(t, err)
}

func TestMemoryRunningBalanceChain(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(nil)

	_, err := l.Credit(ctx, "alice", 50, TypeTopUp, nil)
	require.NoError(t, err)
	_, err = l.Debit(ctx, "alice", 20, TypeUsage, nil)
	require.NoError(t, err)
	_, err = l.Credit(ctx, "alice", 5, TypeGrant, nil)
	require.NoError(t, err)

	hist, err := l.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 3)

	// Each row's running balance is the previous row's plus its amount.
	var running int64
	for _, tx := range hist {
		running += tx.Amount
		assert.Equal(t, running, tx.RunningBalance)
	}
	assert.Equal(t, int64(35), running)
}

func TestMemoryVoid(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(nil)

	hold, err := l.Credit(ctx, "alice", 1, TypeCardCheck, nil)
	require.NoError(t, err)
	_, err = l.Credit(ctx, "alice", 99, TypeTopUp, nil)
	require.NoError(t, err)

	voided, err := l.Void(ctx, "alice", hold.Key)
	require.NoError(t, err)
	assert.False(t, voided.IsActive)

	// The voided row stays in history but leaves the balance.
	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(99), bal)
	hist, err := l.History(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	t.Run("double void is rejected", func(t *testing.T) {
		_, err := l.Void(ctx, "alice", hold.Key)
		assert.ErrorIs(t, err, ErrVoided)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := l.Void(ctx, "alice", "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryRefundWorkflow(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(nil)

	_, err := l.Credit(ctx, "alice", 100, TypeTopUp, nil)
	require.NoError(t, err)
	usage, err := l.Debit(ctx, "alice", 40, TypeUsage, nil)
	require.NoError(t, err)

	req, err := l.RequestRefund(ctx, "alice", usage.Key, "service degraded")
	require.NoError(t, err)
	assert.Equal(t, RefundPending, req.Status)
	assert.Equal(t, int64(40), req.Amount, "refund amount is the debit magnitude")

	// A pending request moves no money.
	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), bal)

	t.Run("approval credits a REFUND transaction", func(t *testing.T) {
		resolved, err := l.ResolveRefund(ctx, "alice", req.ID, true)
		require.NoError(t, err)
		assert.Equal(t, RefundApproved, resolved.Status)
		assert.NotNil(t, resolved.ResolvedAt)

		bal, err := l.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), bal)

		hist, err := l.History(ctx, "alice")
		require.NoError(t, err)
		last := hist[len(hist)-1]
		assert.Equal(t, TypeRefund, last.Type)
		assert.Equal(t, usage.Key, last.Metadata["transaction_key"])
	})

	t.Run("resolving twice is rejected", func(t *testing.T) {
		_, err := l.ResolveRefund(ctx, "alice", req.ID, false)
		assert.ErrorIs(t, err, ErrAlreadyResolved)
	})

	t.Run("rejection moves no money", func(t *testing.T) {
		usage2, err := l.Debit(ctx, "alice", 10, TypeUsage, nil)
		require.NoError(t, err)
		req2, err := l.RequestRefund(ctx, "alice", usage2.Key, "mistake")
		require.NoError(t, err)
		resolved, err := l.ResolveRefund(ctx, "alice", req2.ID, false)
		require.NoError(t, err)
		assert.Equal(t, RefundRejected, resolved.Status)

		bal, err := l.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(90), bal)
	})

	t.Run("requests list in creation order", func(t *testing.T) {
		reqs, err := l.ListRefunds(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, reqs, 2)
		assert.Equal(t, req.ID, reqs[0].ID)
	})

	t.Run("refund of a voided transaction is rejected", func(t *testing.T) {
		hold, err := l.Credit(ctx, "alice", 1, TypeCardCheck, nil)
		require.NoError(t, err)
		_, err = l.Void(ctx, "alice", hold.Key)
		require.NoError(t, err)
		_, err = l.RequestRefund(ctx, "alice", hold.Key, "n/a")
		assert.ErrorIs(t, err, ErrVoided)
	})
}

func TestMemoryConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(nil)

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := l.Credit(ctx, "alice", 2, TypeTopUp, nil)
				assert.NoError(t, err)
				_, err = l.Debit(ctx, "alice", 1, TypeUsage, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), bal)

	// Serialization means every row's snapshot is consistent with the chain
	// of active amounts before it.
	hist, err := l.History(ctx, "alice")
	require.NoError(t, err)
	var running int64
	for _, tx := range hist {
		running += tx.Amount
		assert.Equal(t, running, tx.RunningBalance)
	}
}
