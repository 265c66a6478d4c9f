// Package execstore defines the durable record model for graph executions:
// per-run and per-node status rows, input/output payload rows, and the
// append-mostly Store contract the scheduler writes through. Rows are the
// audit trail and the recovery source of truth; they are written once per
// field transition and never physically deleted except by cascading
// deletion of the parent execution.
package execstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for lookups of unknown executions or node
// executions.
var ErrNotFound = errors.New("execstore: not found")

// GraphExecution is one run of one graph version.
type GraphExecution struct {
	ID           string
	GraphID      string
	GraphVersion int
	UserID       string
	Status       Status

	// Error carries the failure diagnostic when Status is FAILED, e.g.
	// the list of starved nodes after the settle period expires.
	Error string

	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// NodeExecution is one activation of one node within one graph execution.
// A node may be activated multiple times per run, so NodeID alone does not
// identify a row.
type NodeExecution struct {
	ID          string
	ExecutionID string
	NodeID      string
	Status      Status
	Error       string

	QueuedAt  *time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Input is a named value consumed by one node execution on one pin.
type Input struct {
	ExecutionID string
	NodeExecID  string
	NodeID      string
	Pin         string
	Payload     any
	At          time.Time
}

// Output is a named value produced by one node execution on one pin.
type Output struct {
	ExecutionID string
	NodeExecID  string
	NodeID      string
	Pin         string
	Payload     any
	At          time.Time
}

// Store is the durable execution state contract. AppendInput and
// AppendOutput are idempotent under retried delivery: rows are keyed by
// (execution, node execution, pin) and a replay reports created=false so
// the caller does not re-trigger downstream consumption. Status writes
// enforce the CanTransition table.
type Store interface {
	CreateExecution(ctx context.Context, e *GraphExecution) error
	GetExecution(ctx context.Context, execID string) (*GraphExecution, error)
	SetExecutionStatus(ctx context.Context, execID string, status Status, errMsg string) error

	CreateNodeExecution(ctx context.Context, ne *NodeExecution) error
	GetNodeExecution(ctx context.Context, execID, nodeExecID string) (*NodeExecution, error)
	AppendNodeTransition(ctx context.Context, execID, nodeExecID string, status Status, errMsg string) error
	ListNodeExecutions(ctx context.Context, execID string) ([]*NodeExecution, error)

	AppendInput(ctx context.Context, in *Input) (created bool, err error)
	AppendOutput(ctx context.Context, out *Output) (created bool, err error)
	ListInputs(ctx context.Context, execID, nodeExecID string) ([]*Input, error)
	ListOutputs(ctx context.Context, execID, nodeExecID string) ([]*Output, error)

	// DeleteExecution cascades: the execution row, its node executions,
	// and their input/output rows are removed together.
	DeleteExecution(ctx context.Context, execID string) error
}
