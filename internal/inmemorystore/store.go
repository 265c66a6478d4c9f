// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the execstore.Store interface. It is the store used
// for local execution sessions and for tests; deployments that need
// persistence or recovery use the redisstore implementation instead.
package inmemorystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vk/agentgridgo/internal/execstore"
)

// execState bundles everything owned by one graph execution so cascading
// deletion is a single map delete.
type execState struct {
	exec     *execstore.GraphExecution
	nodes    map[string]*execstore.NodeExecution
	order    []string // node execution IDs in creation order
	inputs   map[string]*execstore.Input
	outputs  map[string]*execstore.Output
	inOrder  []string
	outOrder []string
}

// Store is an in-memory execstore.Store. A single RWMutex guards the whole
// structure; executions are hierarchical single-writer in normal operation
// so contention is between executions, not within one.
type Store struct {
	mu    sync.RWMutex
	execs map[string]*execState
	now   func() time.Time
}

// New creates an empty in-memory execution store.
func New() *Store {
	return &Store{execs: make(map[string]*execState), now: func() time.Time { return time.Now().UTC() }}
}

func rowKey(nodeExecID, pin string) string {
	return nodeExecID + "/" + pin
}

func (s *Store) CreateExecution(ctx context.Context, e *execstore.GraphExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.execs[e.ID]; exists {
		return fmt.Errorf("inmemorystore: execution %s already exists", e.ID)
	}
	cp := *e
	if cp.Status == "" {
		cp.Status = execstore.StatusIncomplete
	}
	cp.CreatedAt = s.now()
	s.execs[e.ID] = &execState{
		exec:    &cp,
		nodes:   make(map[string]*execstore.NodeExecution),
		inputs:  make(map[string]*execstore.Input),
		outputs: make(map[string]*execstore.Output),
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, execID string) (*execstore.GraphExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.execs[execID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	cp := *st.exec
	return &cp, nil
}

func (s *Store) SetExecutionStatus(ctx context.Context, execID string, status execstore.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.execs[execID]
	if !ok {
		return fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	if !st.exec.Status.CanTransition(status) {
		return &execstore.ErrInvalidTransition{From: st.exec.Status, To: status}
	}
	st.exec.Status = status
	st.exec.Error = errMsg
	stamp(s.now(), status, nil, &st.exec.StartedAt, &st.exec.EndedAt)
	return nil
}

func (s *Store) CreateNodeExecution(ctx context.Context, ne *execstore.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.execs[ne.ExecutionID]
	if !ok {
		return fmt.Errorf("%w: execution %s", execstore.ErrNotFound, ne.ExecutionID)
	}
	if _, exists := st.nodes[ne.ID]; exists {
		return fmt.Errorf("inmemorystore: node execution %s already exists", ne.ID)
	}
	cp := *ne
	if cp.Status == "" {
		cp.Status = execstore.StatusIncomplete
	}
	st.nodes[ne.ID] = &cp
	st.order = append(st.order, ne.ID)
	return nil
}

func (s *Store) GetNodeExecution(ctx context.Context, execID, nodeExecID string) (*execstore.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ne, err := s.nodeLocked(execID, nodeExecID)
	if err != nil {
		return nil, err
	}
	cp := *ne
	return &cp, nil
}

func (s *Store) nodeLocked(execID, nodeExecID string) (*execstore.NodeExecution, error) {
	st, ok := s.execs[execID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	ne, ok := st.nodes[nodeExecID]
	if !ok {
		return nil, fmt.Errorf("%w: node execution %s", execstore.ErrNotFound, nodeExecID)
	}
	return ne, nil
}

func (s *Store) AppendNodeTransition(ctx context.Context, execID, nodeExecID string, status execstore.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ne, err := s.nodeLocked(execID, nodeExecID)
	if err != nil {
		return err
	}
	if ne.Status == status {
		// Retried delivery of the same transition is a no-op.
		return nil
	}
	if !ne.Status.CanTransition(status) {
		return &execstore.ErrInvalidTransition{From: ne.Status, To: status}
	}
	ne.Status = status
	if errMsg != "" {
		ne.Error = errMsg
	}
	stamp(s.now(), status, &ne.QueuedAt, &ne.StartedAt, &ne.EndedAt)
	return nil
}

func (s *Store) ListNodeExecutions(ctx context.Context, execID string) ([]*execstore.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.execs[execID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	out := make([]*execstore.NodeExecution, 0, len(st.order))
	for _, id := range st.order {
		cp := *st.nodes[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) AppendInput(ctx context.Context, in *execstore.Input) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.execs[in.ExecutionID]
	if !ok {
		return false, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, in.ExecutionID)
	}
	key := rowKey(in.NodeExecID, in.Pin)
	if _, exists := st.inputs[key]; exists {
		return false, nil
	}
	cp := *in
	cp.At = s.now()
	st.inputs[key] = &cp
	st.inOrder = append(st.inOrder, key)
	return true, nil
}

func (s *Store) AppendOutput(ctx context.Context, out *execstore.Output) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.execs[out.ExecutionID]
	if !ok {
		return false, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, out.ExecutionID)
	}
	key := rowKey(out.NodeExecID, out.Pin)
	if _, exists := st.outputs[key]; exists {
		return false, nil
	}
	cp := *out
	cp.At = s.now()
	st.outputs[key] = &cp
	st.outOrder = append(st.outOrder, key)
	return true, nil
}

func (s *Store) ListInputs(ctx context.Context, execID, nodeExecID string) ([]*execstore.Input, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.execs[execID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	var out []*execstore.Input
	for _, key := range st.inOrder {
		row := st.inputs[key]
		if row.NodeExecID == nodeExecID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sortInputsByPin(out)
	return out, nil
}

func (s *Store) ListOutputs(ctx context.Context, execID, nodeExecID string) ([]*execstore.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.execs[execID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	var out []*execstore.Output
	for _, key := range st.outOrder {
		row := st.outputs[key]
		if row.NodeExecID == nodeExecID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sortOutputsByPin(out)
	return out, nil
}

func (s *Store) DeleteExecution(ctx context.Context, execID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[execID]; !ok {
		return fmt.Errorf("%w: execution %s", execstore.ErrNotFound, execID)
	}
	delete(s.execs, execID)
	return nil
}

// stamp writes the timestamp a status transition implies. queued may be
// nil for graph-level records, which have no queued timestamp.
func stamp(now time.Time, status execstore.Status, queued, started, ended **time.Time) {
	switch {
	case status == execstore.StatusQueued && queued != nil:
		t := now
		*queued = &t
	case status == execstore.StatusRunning:
		t := now
		*started = &t
	case status.Terminal():
		t := now
		*ended = &t
	}
}

func sortInputsByPin(rows []*execstore.Input) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Pin < rows[j].Pin })
}

func sortOutputsByPin(rows []*execstore.Output) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Pin < rows[j].Pin })
}
