package execstore

import "fmt"

// Status is the shared lifecycle enum for graph executions and node
// executions. The two levels use the same states with different
// transition policies, both encoded in CanTransition.
type Status string

const (
	// StatusIncomplete is the default state of a record that has been
	// created but not yet admitted to the queue.
	StatusIncomplete Status = "INCOMPLETE"
	StatusQueued     Status = "QUEUED"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	// StatusTerminated represents external cancellation, permitted from
	// QUEUED or RUNNING at either level.
	StatusTerminated Status = "TERMINATED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are permitted out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTerminated, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal
// transition. Admission flows INCOMPLETE -> QUEUED -> RUNNING; RUNNING may
// reach any terminal state; TERMINATED is additionally reachable straight
// from QUEUED. A queued record may also fail directly, e.g. when its graph
// execution fails before dispatch.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusIncomplete:
		return next == StatusQueued
	case StatusQueued:
		return next == StatusRunning || next == StatusTerminated || next == StatusFailed
	case StatusRunning:
		return next.Terminal()
	}
	return false
}

// ErrInvalidTransition wraps a rejected status transition.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("execstore: invalid status transition %s -> %s", e.From, e.To)
}
