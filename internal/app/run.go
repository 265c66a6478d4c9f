package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/agentgridgo/internal/execstore"
	"github.com/vk/agentgridgo/internal/graph"
	"github.com/vk/agentgridgo/internal/ids"
	"github.com/vk/agentgridgo/internal/scheduler"
)

// runningExecution tracks one in-flight scheduler until Run returns.
type runningExecution struct {
	sched *scheduler.Scheduler
	done  chan struct{}
	err   error
}

// StartExecution creates an execution record for the given graph and drives
// it in the background. version <= 0 selects the graph's active version.
// The returned ID is valid immediately for Inject, Terminate and Wait.
func (a *App) StartExecution(ctx context.Context, graphID string, version int, userID string, trigger scheduler.Trigger) (string, error) {
	ctx = a.contextWithLogger(ctx)

	var (
		def *graph.Definition
		err error
	)
	if version <= 0 {
		def, err = a.graphs.Active(graphID)
	} else {
		def, err = a.graphs.Get(graphID, version)
	}
	if err != nil {
		return "", err
	}

	exec := &execstore.GraphExecution{
		ID:           ids.New(),
		GraphID:      def.ID,
		GraphVersion: def.Version,
		UserID:       userID,
		Status:       execstore.StatusIncomplete,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateExecution(ctx, exec); err != nil {
		return "", err
	}

	opts := scheduler.Options{
		Workers:       a.cfg.Workers,
		SettleTimeout: a.cfg.SettleTimeout,
		Emitter:       a.emitter,
		Metrics:       a.metrics,
	}
	if a.cfg.NodeCost > 0 && userID != "" {
		opts.Admission = &balanceAdmission{ledger: a.ledger, userID: userID, cost: a.cfg.NodeCost, metrics: a.metrics}
		opts.Billing = &nodeBilling{ledger: a.ledger, userID: userID, cost: a.cfg.NodeCost, metrics: a.metrics}
	}

	sched, err := scheduler.New(def, a.reg, a.store, a.blocks, opts)
	if err != nil {
		return "", err
	}

	run := &runningExecution{sched: sched, done: make(chan struct{})}
	a.mu.Lock()
	a.running[exec.ID] = run
	a.mu.Unlock()

	go func() {
		defer close(run.done)
		run.err = sched.Run(ctx, exec, trigger)
		a.mu.Lock()
		delete(a.running, exec.ID)
		a.mu.Unlock()
	}()

	return exec.ID, nil
}

// Wait blocks until the execution reaches a terminal status or ctx is
// done, and returns the run error, if any.
func (a *App) Wait(ctx context.Context, execID string) error {
	a.mu.Lock()
	run, ok := a.running[execID]
	a.mu.Unlock()
	if !ok {
		// Already finished, or never started here; the record has the
		// terminal status either way.
		return nil
	}
	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectInput delivers a consume-once value onto a node's input pin of a
// running execution, the same way an external trigger would.
func (a *App) InjectInput(execID, node, pin string, value any) error {
	a.mu.Lock()
	run, ok := a.running[execID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: execution %s is not running", execID)
	}
	run.sched.Inject(node, pin, value)
	return nil
}

// TerminateExecution requests a cooperative stop: queued nodes become
// TERMINATED, running nodes are cancelled best-effort.
func (a *App) TerminateExecution(execID string) error {
	a.mu.Lock()
	run, ok := a.running[execID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: execution %s is not running", execID)
	}
	run.sched.Terminate()
	return nil
}

// Execution returns the stored record for an execution, running or done.
func (a *App) Execution(ctx context.Context, execID string) (*execstore.GraphExecution, error) {
	return a.store.GetExecution(a.contextWithLogger(ctx), execID)
}
