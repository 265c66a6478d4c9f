package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/agentgridgo/internal/ids"
	"github.com/vk/agentgridgo/internal/metrics"
)

// account is all ledger state owned by one user. Its mutex is the per-user
// write serialization point the running-balance invariant depends on.
type account struct {
	mu          sync.Mutex
	txs         []*Transaction
	byKey       map[string]*Transaction
	balance     int64
	refunds     map[string]*RefundRequest
	refundOrder []string
}

// Memory is the in-process Ledger implementation. Writes for one user
// serialize on that user's account mutex; distinct users do not contend.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]*account
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewMemory creates an empty in-memory ledger. metrics may be nil.
func NewMemory(m *metrics.Metrics) *Memory {
	return &Memory{
		accounts: make(map[string]*account),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Memory) account(userID string) *account {
	l.mu.RLock()
	acc, ok := l.accounts[userID]
	l.mu.RUnlock()
	if ok {
		return acc
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok = l.accounts[userID]; ok {
		return acc
	}
	acc = &account{
		byKey:   make(map[string]*Transaction),
		refunds: make(map[string]*RefundRequest),
	}
	l.accounts[userID] = acc
	return acc
}

func (l *Memory) Debit(ctx context.Context, userID string, amount int64, typ Type, metadata map[string]any) (*Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.balance < amount {
		l.metrics.ObserveInsufficientBalance()
		return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, acc.balance, amount)
	}
	return l.appendLocked(acc, userID, -amount, typ, metadata), nil
}

func (l *Memory) Credit(ctx context.Context, userID string, amount int64, typ Type, metadata map[string]any) (*Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return l.appendLocked(acc, userID, amount, typ, metadata), nil
}

// appendLocked appends a row with the running balance computed from the
// prior active balance. Caller holds the account mutex.
func (l *Memory) appendLocked(acc *account, userID string, amount int64, typ Type, metadata map[string]any) *Transaction {
	acc.balance += amount
	tx := &Transaction{
		Key:            ids.New(),
		UserID:         userID,
		Type:           typ,
		Amount:         amount,
		RunningBalance: acc.balance,
		IsActive:       true,
		Metadata:       metadata,
		CreatedAt:      l.now(),
	}
	acc.txs = append(acc.txs, tx)
	acc.byKey[tx.Key] = tx
	l.metrics.ObserveLedger(string(typ))
	cp := *tx
	return &cp
}

func (l *Memory) Balance(ctx context.Context, userID string) (int64, error) {
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance, nil
}

func (l *Memory) History(ctx context.Context, userID string) ([]*Transaction, error) {
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := make([]*Transaction, len(acc.txs))
	for i, tx := range acc.txs {
		cp := *tx
		out[i] = &cp
	}
	return out, nil
}

func (l *Memory) Void(ctx context.Context, userID, key string) (*Transaction, error) {
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	tx, ok := acc.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, key)
	}
	if !tx.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrVoided, key)
	}
	tx.IsActive = false
	acc.balance -= tx.Amount
	cp := *tx
	return &cp, nil
}

func (l *Memory) RequestRefund(ctx context.Context, userID, transactionKey, reason string) (*RefundRequest, error) {
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	tx, ok := acc.byKey[transactionKey]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionKey)
	}
	if !tx.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrVoided, transactionKey)
	}
	amount := tx.Amount
	if amount < 0 {
		amount = -amount
	}
	req := &RefundRequest{
		ID:             ids.New(),
		UserID:         userID,
		TransactionKey: transactionKey,
		Amount:         amount,
		Reason:         reason,
		Status:         RefundPending,
		CreatedAt:      l.now(),
	}
	acc.refunds[req.ID] = req
	acc.refundOrder = append(acc.refundOrder, req.ID)
	cp := *req
	return &cp, nil
}

func (l *Memory) ResolveRefund(ctx context.Context, userID, requestID string, approve bool) (*RefundRequest, error) {
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	req, ok := acc.refunds[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: refund request %s", ErrNotFound, requestID)
	}
	if req.Status != RefundPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, requestID, req.Status)
	}
	now := l.now()
	req.ResolvedAt = &now
	if !approve {
		req.Status = RefundRejected
		cp := *req
		return &cp, nil
	}
	req.Status = RefundApproved
	l.appendLocked(acc, userID, req.Amount, TypeRefund, map[string]any{
		"refund_request":  req.ID,
		"transaction_key": req.TransactionKey,
	})
	cp := *req
	return &cp, nil
}

func (l *Memory) ListRefunds(ctx context.Context, userID string) ([]*RefundRequest, error) {
	acc := l.account(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := make([]*RefundRequest, 0, len(acc.refundOrder))
	for _, id := range acc.refundOrder {
		cp := *acc.refunds[id]
		out = append(out, &cp)
	}
	return out, nil
}
