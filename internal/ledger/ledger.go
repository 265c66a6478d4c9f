// Package ledger implements the append-only credit ledger: every write
// appends a transaction carrying a running-balance snapshot, computed
// under per-user write serialization so the chain of active transactions
// always sums to the current balance. Rows are never mutated after append,
// with one exception: soft-voiding flips IsActive off and removes the row
// from balance computation while retaining it for audit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type classifies a ledger transaction.
type Type string

const (
	TypeTopUp     Type = "TOP_UP"
	TypeUsage     Type = "USAGE"
	TypeGrant     Type = "GRANT"
	TypeRefund    Type = "REFUND"
	TypeCardCheck Type = "CARD_CHECK"
)

var (
	// ErrInsufficientBalance is returned by Debit when the user's active
	// balance cannot cover the requested amount. No row is appended.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrNotFound covers unknown transaction keys and refund request IDs.
	ErrNotFound = errors.New("ledger: not found")
	// ErrAlreadyResolved is returned when resolving a refund request that
	// is no longer pending.
	ErrAlreadyResolved = errors.New("ledger: refund request already resolved")
	// ErrVoided is returned when acting on a transaction that was already
	// soft-voided.
	ErrVoided = errors.New("ledger: transaction is voided")
)

// Transaction is one append-only ledger row. Amount is signed: debits are
// stored negative, credits positive. RunningBalance is the user's active
// balance immediately after this row was appended.
type Transaction struct {
	Key            string         `json:"key"`
	UserID         string         `json:"user_id"`
	Type           Type           `json:"type"`
	Amount         int64          `json:"amount"`
	RunningBalance int64          `json:"running_balance"`
	IsActive       bool           `json:"is_active"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RefundStatus is the lifecycle of a refund request.
type RefundStatus string

const (
	RefundPending  RefundStatus = "PENDING"
	RefundApproved RefundStatus = "APPROVED"
	RefundRejected RefundStatus = "REJECTED"
)

// RefundRequest references a transaction by key and moves no balance
// itself. Approval appends a fresh REFUND transaction; the referenced row
// is never touched.
type RefundRequest struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	TransactionKey string       `json:"transaction_key"`
	Amount         int64        `json:"amount"`
	Reason         string       `json:"reason"`
	Status         RefundStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
}

// Ledger is the credit ledger contract. Implementations serialize writes
// per user; writes for distinct users proceed in parallel.
type Ledger interface {
	// Debit appends a negative-amount transaction, or returns
	// ErrInsufficientBalance without appending. amount must be positive.
	Debit(ctx context.Context, userID string, amount int64, typ Type, metadata map[string]any) (*Transaction, error)
	// Credit appends a positive-amount transaction. amount must be positive.
	Credit(ctx context.Context, userID string, amount int64, typ Type, metadata map[string]any) (*Transaction, error)
	// Balance returns the sum of the user's active transaction amounts.
	Balance(ctx context.Context, userID string) (int64, error)
	// History returns the user's transactions in creation order, voided
	// rows included.
	History(ctx context.Context, userID string) ([]*Transaction, error)
	// Void soft-voids a transaction (e.g. reversing a CARD_CHECK hold):
	// the row stays for audit but stops counting toward the balance.
	Void(ctx context.Context, userID, key string) (*Transaction, error)

	RequestRefund(ctx context.Context, userID, transactionKey, reason string) (*RefundRequest, error)
	// ResolveRefund moves a PENDING request to APPROVED or REJECTED. On
	// approval a new REFUND transaction for the referenced amount is
	// appended atomically with the status change.
	ResolveRefund(ctx context.Context, userID, requestID string, approve bool) (*RefundRequest, error)
	ListRefunds(ctx context.Context, userID string) ([]*RefundRequest, error)
}

// checkAmount rejects non-positive magnitudes before any lock is taken.
func checkAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: amount must be positive, got %d", amount)
	}
	return nil
}
