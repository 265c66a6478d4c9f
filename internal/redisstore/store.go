// Package redisstore provides a Redis-backed implementation of the
// execstore.Store interface for deployments that need execution state to
// survive the process. Idempotent input/output appends map onto SETNX;
// status transitions use optimistic WATCH transactions so concurrent
// writers cannot skip a state.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/vk/agentgridgo/internal/execstore"
)

// Store implements execstore.Store on top of a Redis client.
type Store struct {
	client *backend.Client
	prefix string
}

type Option func(*Store)

// WithPrefix sets the key prefix for all execution state keys.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewFromClient creates a Redis execution store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: "agentgrid:exec:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New creates a Redis execution store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{Addr: address, Password: password, DB: db})
	return NewFromClient(client, opts...)
}

func (s *Store) execKey(execID string) string      { return s.prefix + execID }
func (s *Store) nodeIndexKey(execID string) string { return s.prefix + execID + ":nodes" }
func (s *Store) nodeKey(execID, neID string) string {
	return s.prefix + execID + ":node:" + neID
}
func (s *Store) rowKey(execID, neID, pin, kind string) string {
	return s.prefix + execID + ":" + kind + ":" + neID + ":" + pin
}
func (s *Store) rowIndexKey(execID, neID, kind string) string {
	return s.prefix + execID + ":" + kind + "s:" + neID
}

func (s *Store) CreateExecution(ctx context.Context, e *execstore.GraphExecution) error {
	cp := *e
	if cp.Status == "" {
		cp.Status = execstore.StatusIncomplete
	}
	cp.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.execKey(e.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create execution in redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("redisstore: execution %s already exists", e.ID)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, execID string) (*execstore.GraphExecution, error) {
	val, err := s.client.Get(ctx, s.execKey(execID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
		}
		return nil, fmt.Errorf("failed to get execution from redis: %w", err)
	}
	var e execstore.GraphExecution
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &e, nil
}

func (s *Store) SetExecutionStatus(ctx context.Context, execID string, status execstore.Status, errMsg string) error {
	key := s.execKey(execID)
	return s.client.Watch(ctx, func(tx *backend.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, backend.Nil) {
			return fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
		}
		if err != nil {
			return err
		}
		var e execstore.GraphExecution
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return err
		}
		if !e.Status.CanTransition(status) {
			return &execstore.ErrInvalidTransition{From: e.Status, To: status}
		}
		e.Status = status
		e.Error = errMsg
		now := time.Now().UTC()
		switch {
		case status == execstore.StatusRunning:
			e.StartedAt = &now
		case status.Terminal():
			e.EndedAt = &now
		}
		data, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

func (s *Store) CreateNodeExecution(ctx context.Context, ne *execstore.NodeExecution) error {
	if err := s.requireExecution(ctx, ne.ExecutionID); err != nil {
		return err
	}
	cp := *ne
	if cp.Status == "" {
		cp.Status = execstore.StatusIncomplete
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal node execution: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.nodeKey(ne.ExecutionID, ne.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create node execution in redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("redisstore: node execution %s already exists", ne.ID)
	}
	return s.client.RPush(ctx, s.nodeIndexKey(ne.ExecutionID), ne.ID).Err()
}

func (s *Store) GetNodeExecution(ctx context.Context, execID, nodeExecID string) (*execstore.NodeExecution, error) {
	val, err := s.client.Get(ctx, s.nodeKey(execID, nodeExecID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: node execution %s", execstore.ErrNotFound, nodeExecID)
		}
		return nil, fmt.Errorf("failed to get node execution from redis: %w", err)
	}
	var ne execstore.NodeExecution
	if err := json.Unmarshal([]byte(val), &ne); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node execution: %w", err)
	}
	return &ne, nil
}

func (s *Store) AppendNodeTransition(ctx context.Context, execID, nodeExecID string, status execstore.Status, errMsg string) error {
	key := s.nodeKey(execID, nodeExecID)
	return s.client.Watch(ctx, func(tx *backend.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, backend.Nil) {
			return fmt.Errorf("%w: node execution %s", execstore.ErrNotFound, nodeExecID)
		}
		if err != nil {
			return err
		}
		var ne execstore.NodeExecution
		if err := json.Unmarshal([]byte(val), &ne); err != nil {
			return err
		}
		if ne.Status == status {
			return nil // retried delivery
		}
		if !ne.Status.CanTransition(status) {
			return &execstore.ErrInvalidTransition{From: ne.Status, To: status}
		}
		ne.Status = status
		if errMsg != "" {
			ne.Error = errMsg
		}
		now := time.Now().UTC()
		switch {
		case status == execstore.StatusQueued:
			ne.QueuedAt = &now
		case status == execstore.StatusRunning:
			ne.StartedAt = &now
		case status.Terminal():
			ne.EndedAt = &now
		}
		data, err := json.Marshal(&ne)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

func (s *Store) ListNodeExecutions(ctx context.Context, execID string) ([]*execstore.NodeExecution, error) {
	if err := s.requireExecution(ctx, execID); err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, s.nodeIndexKey(execID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	out := make([]*execstore.NodeExecution, 0, len(ids))
	for _, id := range ids {
		ne, err := s.GetNodeExecution(ctx, execID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ne)
	}
	return out, nil
}

func (s *Store) AppendInput(ctx context.Context, in *execstore.Input) (bool, error) {
	cp := *in
	cp.At = time.Now().UTC()
	return s.appendRow(ctx, in.ExecutionID, in.NodeExecID, in.Pin, "in", &cp)
}

func (s *Store) AppendOutput(ctx context.Context, out *execstore.Output) (bool, error) {
	cp := *out
	cp.At = time.Now().UTC()
	return s.appendRow(ctx, out.ExecutionID, out.NodeExecID, out.Pin, "out", &cp)
}

func (s *Store) appendRow(ctx context.Context, execID, neID, pin, kind string, row any) (bool, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s row: %w", kind, err)
	}
	created, err := s.client.SetNX(ctx, s.rowKey(execID, neID, pin, kind), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to append %s row: %w", kind, err)
	}
	if !created {
		return false, nil
	}
	if err := s.client.RPush(ctx, s.rowIndexKey(execID, neID, kind), pin).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListInputs(ctx context.Context, execID, nodeExecID string) ([]*execstore.Input, error) {
	var out []*execstore.Input
	err := s.listRows(ctx, execID, nodeExecID, "in", func(data []byte) error {
		var row execstore.Input
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		out = append(out, &row)
		return nil
	})
	return out, err
}

func (s *Store) ListOutputs(ctx context.Context, execID, nodeExecID string) ([]*execstore.Output, error) {
	var out []*execstore.Output
	err := s.listRows(ctx, execID, nodeExecID, "out", func(data []byte) error {
		var row execstore.Output
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		out = append(out, &row)
		return nil
	})
	return out, err
}

func (s *Store) listRows(ctx context.Context, execID, neID, kind string, decode func([]byte) error) error {
	pins, err := s.client.LRange(ctx, s.rowIndexKey(execID, neID, kind), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list %s rows: %w", kind, err)
	}
	for _, pin := range pins {
		val, err := s.client.Get(ctx, s.rowKey(execID, neID, pin, kind)).Result()
		if err != nil {
			return fmt.Errorf("failed to read %s row %s: %w", kind, pin, err)
		}
		if err := decode([]byte(val)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteExecution(ctx context.Context, execID string) error {
	if err := s.requireExecution(ctx, execID); err != nil {
		return err
	}
	neIDs, err := s.client.LRange(ctx, s.nodeIndexKey(execID), 0, -1).Result()
	if err != nil {
		return err
	}
	keys := []string{s.execKey(execID), s.nodeIndexKey(execID)}
	for _, neID := range neIDs {
		keys = append(keys, s.nodeKey(execID, neID))
		for _, kind := range []string{"in", "out"} {
			pins, err := s.client.LRange(ctx, s.rowIndexKey(execID, neID, kind), 0, -1).Result()
			if err != nil {
				return err
			}
			for _, pin := range pins {
				keys = append(keys, s.rowKey(execID, neID, pin, kind))
			}
			keys = append(keys, s.rowIndexKey(execID, neID, kind))
		}
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) requireExecution(ctx context.Context, execID string) error {
	n, err := s.client.Exists(ctx, s.execKey(execID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check execution existence: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	return nil
}

// Close closes the underlying redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
