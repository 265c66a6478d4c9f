package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/vk/agentgridgo/internal/ids"
	"github.com/vk/agentgridgo/internal/metrics"
)

// Redis is the Ledger implementation backed by Redis. Per-user write
// serialization is achieved with optimistic WATCH transactions on the
// user's balance key: concurrent writers for the same user retry, writers
// for distinct users never interact.
type Redis struct {
	client  *backend.Client
	prefix  string
	retries int
	metrics *metrics.Metrics
}

type RedisOption func(*Redis)

// WithPrefix sets the key prefix for all ledger keys.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRetries sets how many times a write retries after losing a WATCH
// race before giving up.
func WithRetries(n int) RedisOption {
	return func(r *Redis) { r.retries = n }
}

// NewRedis creates a Redis-backed ledger from an existing client. metrics
// may be nil.
func NewRedis(client *backend.Client, m *metrics.Metrics, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "agentgrid:ledger:", retries: 16, metrics: m}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) balKey(userID string) string    { return r.prefix + userID + ":bal" }
func (r *Redis) logKey(userID string) string    { return r.prefix + userID + ":log" }
func (r *Redis) txKey(userID, key string) string {
	return r.prefix + userID + ":tx:" + key
}
func (r *Redis) refundKey(userID, id string) string {
	return r.prefix + userID + ":refund:" + id
}
func (r *Redis) refundLogKey(userID string) string { return r.prefix + userID + ":refunds" }

// withUserTx runs fn inside a WATCH transaction on the user's balance key,
// retrying on write conflicts.
func (r *Redis) withUserTx(ctx context.Context, userID string, fn func(tx *backend.Tx, balance int64) error) error {
	key := r.balKey(userID)
	for i := 0; i < r.retries; i++ {
		err := r.client.Watch(ctx, func(tx *backend.Tx) error {
			balance, err := tx.Get(ctx, key).Int64()
			if err != nil && !errors.Is(err, backend.Nil) {
				return err
			}
			return fn(tx, balance)
		}, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("ledger: user %s write contended beyond %d retries", userID, r.retries)
}

func (r *Redis) appendTx(ctx context.Context, tx *backend.Tx, t *Transaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, r.balKey(t.UserID), strconv.FormatInt(t.RunningBalance, 10), 0)
		pipe.Set(ctx, r.txKey(t.UserID, t.Key), data, 0)
		pipe.RPush(ctx, r.logKey(t.UserID), t.Key)
		return nil
	})
	return err
}

func (r *Redis) Debit(ctx context.Context, userID string, amount int64, typ Type, metadata map[string]any) (*Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	var out *Transaction
	err := r.withUserTx(ctx, userID, func(tx *backend.Tx, balance int64) error {
		if balance < amount {
			r.metrics.ObserveInsufficientBalance()
			return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, balance, amount)
		}
		out = newTransaction(userID, -amount, typ, balance-amount, metadata)
		return r.appendTx(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveLedger(string(typ))
	return out, nil
}

func (r *Redis) Credit(ctx context.Context, userID string, amount int64, typ Type, metadata map[string]any) (*Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	var out *Transaction
	err := r.withUserTx(ctx, userID, func(tx *backend.Tx, balance int64) error {
		out = newTransaction(userID, amount, typ, balance+amount, metadata)
		return r.appendTx(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveLedger(string(typ))
	return out, nil
}

func newTransaction(userID string, amount int64, typ Type, runningBalance int64, metadata map[string]any) *Transaction {
	return &Transaction{
		Key:            ids.New(),
		UserID:         userID,
		Type:           typ,
		Amount:         amount,
		RunningBalance: runningBalance,
		IsActive:       true,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}
}

func (r *Redis) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := r.client.Get(ctx, r.balKey(userID)).Int64()
	if errors.Is(err, backend.Nil) {
		return 0, nil
	}
	return balance, err
}

func (r *Redis) History(ctx context.Context, userID string) ([]*Transaction, error) {
	keys, err := r.client.LRange(ctx, r.logKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Transaction, 0, len(keys))
	for _, key := range keys {
		tx, err := r.getTx(ctx, userID, key)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r *Redis) getTx(ctx context.Context, userID, key string) (*Transaction, error) {
	val, err := r.client.Get(ctx, r.txKey(userID, key)).Result()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	var tx Transaction
	if err := json.Unmarshal([]byte(val), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *Redis) Void(ctx context.Context, userID, key string) (*Transaction, error) {
	var out *Transaction
	err := r.withUserTx(ctx, userID, func(tx *backend.Tx, balance int64) error {
		t, err := r.getTx(ctx, userID, key)
		if err != nil {
			return err
		}
		if !t.IsActive {
			return fmt.Errorf("%w: %s", ErrVoided, key)
		}
		t.IsActive = false
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		newBal := balance - t.Amount
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, r.balKey(userID), strconv.FormatInt(newBal, 10), 0)
			pipe.Set(ctx, r.txKey(userID, key), data, 0)
			return nil
		})
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Redis) RequestRefund(ctx context.Context, userID, transactionKey, reason string) (*RefundRequest, error) {
	tx, err := r.getTx(ctx, userID, transactionKey)
	if err != nil {
		return nil, err
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
		CreatedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.refundKey(userID, req.ID), data, 0)
	pipe.RPush(ctx, r.refundLogKey(userID), req.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *Redis) ResolveRefund(ctx context.Context, userID, requestID string, approve bool) (*RefundRequest, error) {
	var out *RefundRequest
	err := r.withUserTx(ctx, userID, func(tx *backend.Tx, balance int64) error {
		req, err := r.getRefund(ctx, userID, requestID)
		if err != nil {
			return err
		}
		if req.Status != RefundPending {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, requestID, req.Status)
		}
		now := time.Now().UTC()
		req.ResolvedAt = &now
		if approve {
			req.Status = RefundApproved
		} else {
			req.Status = RefundRejected
		}
		reqData, err := json.Marshal(req)
		if err != nil {
			return err
		}

		if !approve {
			_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
				pipe.Set(ctx, r.refundKey(userID, requestID), reqData, 0)
				return nil
			})
			out = req
			return err
		}

		refund := newTransaction(userID, req.Amount, TypeRefund, balance+req.Amount, map[string]any{
			"refund_request":  req.ID,
			"transaction_key": req.TransactionKey,
		})
		txData, err := json.Marshal(refund)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, r.refundKey(userID, requestID), reqData, 0)
			pipe.Set(ctx, r.balKey(userID), strconv.FormatInt(refund.RunningBalance, 10), 0)
			pipe.Set(ctx, r.txKey(userID, refund.Key), txData, 0)
			pipe.RPush(ctx, r.logKey(userID), refund.Key)
			return nil
		})
		out = req
		return err
	})
	if err != nil {
		return nil, err
	}
	if approve {
		r.metrics.ObserveLedger(string(TypeRefund))
	}
	return out, nil
}

func (r *Redis) getRefund(ctx context.Context, userID, id string) (*RefundRequest, error) {
	val, err := r.client.Get(ctx, r.refundKey(userID, id)).Result()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: refund request %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var req RefundRequest
	if err := json.Unmarshal([]byte(val), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *Redis) ListRefunds(ctx context.Context, userID string) ([]*RefundRequest, error) {
	idList, err := r.client.LRange(ctx, r.refundLogKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*RefundRequest, 0, len(idList))
	for _, id := range idList {
		req, err := r.getRefund(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
