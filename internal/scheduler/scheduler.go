// Package scheduler drives one graph execution from admission to a
// terminal status. It owns the execution's mailbox and resolver, keeps a
// ready-set of activations that is recomputed whenever outputs commit,
// dispatches ready nodes to a bounded worker pool behind an admission
// gate, and decides the run's terminal state, including the settle-timeout
// starvation diagnostic.
//
// The coordinator goroutine is the sole writer to the execution's records,
// so output commit always happens-before any downstream readiness
// recomputation that depends on it.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vk/agentgridgo/internal/ctxlog"
	"github.com/vk/agentgridgo/internal/events"
	"github.com/vk/agentgridgo/internal/execstore"
	"github.com/vk/agentgridgo/internal/executor"
	"github.com/vk/agentgridgo/internal/graph"
	"github.com/vk/agentgridgo/internal/ids"
	"github.com/vk/agentgridgo/internal/metrics"
	"github.com/vk/agentgridgo/internal/resolver"
)

// AdmissionController gates the QUEUED to RUNNING transition. It is an
// external policy: the scheduler only promises not to dispatch a node the
// controller refused, re-asking as conditions change.
type AdmissionController interface {
	MayDispatch(ctx context.Context, ne *execstore.NodeExecution) bool
}

// AdmitAll is the default admission policy.
type AdmitAll struct{}

func (AdmitAll) MayDispatch(context.Context, *execstore.NodeExecution) bool { return true }

// Billing maps a completed node execution to a usage charge. The
// interpretation of cost lives entirely with the caller; the scheduler
// only reports that a node ran.
type Billing interface {
	ChargeNode(ctx context.Context, exec *execstore.GraphExecution, ne *execstore.NodeExecution) error
}

// Options tunes one scheduler instance. Zero values select the defaults.
type Options struct {
	// Workers bounds how many nodes of this execution run concurrently.
	Workers int
	// SettleTimeout is the grace window before a quiescent execution with
	// permanently unsatisfiable nodes is declared FAILED.
	SettleTimeout time.Duration
	Admission     AdmissionController
	Billing       Billing
	Emitter       events.Emitter
	Metrics       *metrics.Metrics
}

const (
	defaultWorkers       = 4
	defaultSettleTimeout = 5 * time.Second
	admissionRetryEvery  = 100 * time.Millisecond
)

// Trigger is the initiating input payload for an execution, keyed by node
// ID and then by input pin name. Trigger values are consumed once, like
// any non-static delivery.
type Trigger map[string]map[string]any

// activation is one node execution that has been resolved and queued.
type activation struct {
	ne     *execstore.NodeExecution
	node   *graph.Node
	inputs resolver.InputSet
}

// result is what a worker reports back to the coordinator.
type result struct {
	act      *activation
	outputs  executor.OutputSet
	err      error
	duration time.Duration
	// dispatched is false when the worker dropped the activation without
	// running it because the execution was already being torn down.
	dispatched bool
}

// Scheduler runs one GraphExecution over one graph definition snapshot.
type Scheduler struct {
	def    *graph.Definition
	store  execstore.Store
	blocks executor.BlockExecutor
	res    *resolver.Resolver
	opts   Options

	exec *execstore.GraphExecution

	wake      chan struct{}
	terminate chan struct{}
	termOnce  sync.Once

	// coordinator-local bookkeeping, never touched concurrently
	activations map[string]int
	outcomes    map[string][]execstore.Status
	completed   int
}

// New creates a scheduler for the given definition. The schema source is
// the same registry the definition was validated against at publish time.
func New(def *graph.Definition, schemas graph.SchemaSource, store execstore.Store, blocks executor.BlockExecutor, opts Options) (*Scheduler, error) {
	res, err := resolver.New(def, schemas)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = defaultSettleTimeout
	}
	if opts.Admission == nil {
		opts.Admission = AdmitAll{}
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop{}
	}
	return &Scheduler{
		def:         def,
		store:       store,
		blocks:      blocks,
		res:         res,
		opts:        opts,
		wake:        make(chan struct{}, 1),
		terminate:   make(chan struct{}),
		activations: make(map[string]int),
		outcomes:    make(map[string][]execstore.Status),
	}, nil
}

// Terminate requests external cancellation. Admission of new nodes stops
// immediately; already-running nodes are cancelled best-effort through
// their context and the execution ends TERMINATED.
func (s *Scheduler) Terminate() {
	s.termOnce.Do(func() { close(s.terminate) })
}

// Inject delivers an initiating value to a node's pin while the execution
// is running, the path a webhook or trigger source feeds into. The value
// is consume-once.
func (s *Scheduler) Inject(node, pin string, value any) {
	s.res.Mailbox().DeliverTrigger(node, pin, value)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the execution to a terminal status and returns the error that
// failed it, if any. The exec record must already exist in the store with
// status INCOMPLETE.
func (s *Scheduler) Run(ctx context.Context, exec *execstore.GraphExecution, trigger Trigger) error {
	logger := ctxlog.FromContext(ctx).With("execution_id", exec.ID, "graph", s.def.Ref().String())
	s.exec = exec

	if err := s.store.SetExecutionStatus(ctx, exec.ID, execstore.StatusQueued, ""); err != nil {
		return err
	}
	if err := s.store.SetExecutionStatus(ctx, exec.ID, execstore.StatusRunning, ""); err != nil {
		return err
	}
	s.emit(ctx, "execution.started", map[string]any{"execution_id": exec.ID})
	logger.Info("Execution started.", "nodes", len(s.def.Nodes))

	// Seed the mailbox: trigger payloads queue as consume-once deliveries,
	// and entry nodes are primed for their constant-only first activation.
	mb := s.res.Mailbox()
	for nodeID, pins := range trigger {
		for pin, value := range pins {
			mb.DeliverTrigger(nodeID, pin, value)
		}
	}
	for _, nodeID := range s.def.EntryNodes() {
		mb.Prime(nodeID)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	ready := make(chan *activation)
	results := make(chan *result)
	for i := 0; i < s.opts.Workers; i++ {
		go s.worker(workerCtx, i, ready, results)
	}
	defer close(ready)

	queued := s.recomputeAll(ctx)
	inflight := 0
	terminating := false
	var settle *time.Timer
	var settleCh <-chan time.Time

	stopSettle := func() {
		if settle != nil {
			settle.Stop()
			settle, settleCh = nil, nil
		}
	}
	beginTeardown := func() {
		if terminating {
			return
		}
		terminating = true
		stopSettle()
		cancelWorkers()
		for _, act := range queued {
			s.finishNode(ctx, act, execstore.StatusTerminated, "execution terminated before dispatch")
		}
		queued = nil
	}

	for {
		// Anything newly admitted invalidates a pending settle verdict.
		if settleCh != nil && (len(queued) > 0 || inflight > 0) {
			stopSettle()
		}

		switch {
		case !terminating && len(queued) > 0:
			act := queued[0]
			if !s.opts.Admission.MayDispatch(ctx, act.ne) {
				// Head-of-line is blocked by policy; rotate so siblings get
				// their chance, then wait for conditions to change.
				queued = append(queued[1:], act)
				select {
				case r := <-results:
					inflight--
					queued = append(queued, s.handleResult(ctx, r)...)
				case <-time.After(admissionRetryEvery):
				case <-s.wake:
					queued = append(queued, s.recomputeAll(ctx)...)
				case <-s.terminate:
					beginTeardown()
				case <-ctx.Done():
					beginTeardown()
				}
				continue
			}
			select {
			case ready <- act:
				queued = queued[1:]
				inflight++
			case r := <-results:
				inflight--
				queued = append(queued, s.handleResult(ctx, r)...)
			case <-s.wake:
				queued = append(queued, s.recomputeAll(ctx)...)
			case <-s.terminate:
				beginTeardown()
			case <-ctx.Done():
				beginTeardown()
			}

		case inflight > 0:
			select {
			case r := <-results:
				inflight--
				queued = append(queued, s.handleResult(ctx, r)...)
			case <-s.wake:
				if !terminating {
					queued = append(queued, s.recomputeAll(ctx)...)
				}
			case <-s.terminate:
				beginTeardown()
			case <-ctx.Done():
				beginTeardown()
			}

		default:
			// Quiescent: nothing queued, nothing running.
			if terminating {
				return s.finishExecution(ctx, execstore.StatusTerminated, "", false)
			}
			starved := s.starvedNodes()
			if len(starved) == 0 {
				if s.completed > 0 {
					return s.finishExecution(ctx, execstore.StatusCompleted, "", false)
				}
				return s.finishExecution(ctx, execstore.StatusFailed, "no node reached COMPLETED", false)
			}
			if settleCh == nil {
				logger.Warn("Execution settled with unresolved nodes, starting grace window.",
					"unresolved", starved, "settle_timeout", s.opts.SettleTimeout)
				settle = time.NewTimer(s.opts.SettleTimeout)
				settleCh = settle.C
			}
			select {
			case <-settleCh:
				diag := starvationDiagnostic(starved)
				return s.finishExecution(ctx, execstore.StatusFailed, diag, true)
			case <-s.wake:
				stopSettle()
				queued = append(queued, s.recomputeAll(ctx)...)
			case <-s.terminate:
				beginTeardown()
			case <-ctx.Done():
				beginTeardown()
			}
		}
	}
}

// recomputeAll re-evaluates readiness for every node. Resolve loops per
// node because several pending values may each justify an activation.
func (s *Scheduler) recomputeAll(ctx context.Context) []*activation {
	nodeIDs := make([]string, 0, len(s.def.Nodes))
	for id := range s.def.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	return s.recompute(ctx, nodeIDs)
}

// recompute drains readiness for the given candidate nodes, creating a
// QUEUED node execution for every activation the resolver grants.
func (s *Scheduler) recompute(ctx context.Context, nodeIDs []string) []*activation {
	logger := ctxlog.FromContext(ctx)
	var out []*activation
	for _, nodeID := range nodeIDs {
		for {
			inputs, ok := s.res.Resolve(nodeID)
			if !ok {
				break
			}
			act, err := s.admitNode(ctx, nodeID, inputs)
			if err != nil {
				logger.Error("Failed to queue ready node.", "node", nodeID, "error", err)
				break
			}
			out = append(out, act)
		}
	}
	return out
}

// admitNode persists the QUEUED record and its input rows for one granted
// activation.
func (s *Scheduler) admitNode(ctx context.Context, nodeID string, inputs resolver.InputSet) (*activation, error) {
	ne := &execstore.NodeExecution{
		ID:          ids.New(),
		ExecutionID: s.exec.ID,
		NodeID:      nodeID,
		Status:      execstore.StatusIncomplete,
	}
	if err := s.store.CreateNodeExecution(ctx, ne); err != nil {
		return nil, err
	}
	if err := s.store.AppendNodeTransition(ctx, s.exec.ID, ne.ID, execstore.StatusQueued, ""); err != nil {
		return nil, err
	}
	for pin, value := range inputs {
		if _, err := s.store.AppendInput(ctx, &execstore.Input{
			ExecutionID: s.exec.ID,
			NodeExecID:  ne.ID,
			NodeID:      nodeID,
			Pin:         pin,
			Payload:     value,
		}); err != nil {
			return nil, err
		}
	}
	s.activations[nodeID]++
	return &activation{ne: ne, node: s.def.Nodes[nodeID], inputs: inputs}, nil
}

// handleResult commits one worker result: terminal node status, output
// rows, fan-out deliveries, and the readiness recomputation for the
// producer's downstream consumers.
func (s *Scheduler) handleResult(ctx context.Context, r *result) []*activation {
	logger := ctxlog.FromContext(ctx).With("node", r.act.node.ID, "node_execution_id", r.act.ne.ID)

	if !r.dispatched {
		s.finishNode(ctx, r.act, execstore.StatusTerminated, "execution terminated before dispatch")
		return nil
	}

	if r.err != nil {
		status := execstore.StatusFailed
		msg := r.err.Error()
		if ctx.Err() != nil || s.terminated() {
			status = execstore.StatusTerminated
			msg = "cancelled: " + msg
		}
		logger.Error("Node execution did not complete.", "status", status, "error", r.err)
		s.finishNode(ctx, r.act, status, msg)
		s.opts.Metrics.ObserveNodeOutcome(string(status), r.duration.Seconds())
		return nil
	}

	s.finishNode(ctx, r.act, execstore.StatusCompleted, "")
	s.completed++
	s.opts.Metrics.ObserveNodeOutcome(string(execstore.StatusCompleted), r.duration.Seconds())

	if s.opts.Billing != nil {
		if err := s.opts.Billing.ChargeNode(ctx, s.exec, r.act.ne); err != nil {
			// Usage accounting must not undo completed work; the admission
			// gate is what stops an exhausted user's next dispatch.
			logger.Warn("Node charge failed.", "error", err)
			s.emit(ctx, "node.charge_failed", map[string]any{
				"execution_id": s.exec.ID, "node": r.act.node.ID, "error": err.Error(),
			})
		}
	}

	// Commit outputs and fan out. AppendOutput is idempotent: only rows
	// created by this commit are delivered downstream, so a replay cannot
	// re-trigger consumption.
	affected := make(map[string]struct{})
	outgoing := s.def.OutgoingLinks(r.act.node.ID)
	for pin, value := range r.outputs {
		created, err := s.store.AppendOutput(ctx, &execstore.Output{
			ExecutionID: s.exec.ID,
			NodeExecID:  r.act.ne.ID,
			NodeID:      r.act.node.ID,
			Pin:         pin,
			Payload:     value,
		})
		if err != nil {
			logger.Error("Failed to append output.", "pin", pin, "error", err)
			continue
		}
		if !created {
			continue
		}
		for _, l := range outgoing {
			if l.SourcePin != pin {
				continue
			}
			s.res.Mailbox().Deliver(l, value)
			affected[l.SinkNode] = struct{}{}
		}
	}
	s.emit(ctx, "node.completed", map[string]any{
		"execution_id": s.exec.ID, "node": r.act.node.ID, "node_execution_id": r.act.ne.ID,
	})

	sinks := make([]string, 0, len(affected))
	for sink := range affected {
		sinks = append(sinks, sink)
	}
	sort.Strings(sinks)
	return s.recompute(ctx, sinks)
}

// finishNode records a terminal node status, tolerating records that were
// already moved terminal by a competing path.
func (s *Scheduler) finishNode(ctx context.Context, act *activation, status execstore.Status, msg string) {
	if err := s.store.AppendNodeTransition(ctx, s.exec.ID, act.ne.ID, status, msg); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to record node transition.",
			"node_execution_id", act.ne.ID, "status", status, "error", err)
	}
	s.outcomes[act.node.ID] = append(s.outcomes[act.node.ID], status)
	if status == execstore.StatusFailed {
		s.emit(ctx, "node.failed", map[string]any{
			"execution_id": s.exec.ID, "node": act.node.ID, "error": msg,
		})
	}
}

func (s *Scheduler) finishExecution(ctx context.Context, status execstore.Status, diag string, settled bool) error {
	logger := ctxlog.FromContext(ctx).With("execution_id", s.exec.ID)
	if err := s.store.SetExecutionStatus(ctx, s.exec.ID, status, diag); err != nil {
		logger.Error("Failed to record execution status.", "status", status, "error", err)
	}
	s.opts.Metrics.ObserveExecutionOutcome(string(status), settled)
	s.emit(ctx, "execution."+strings.ToLower(string(status)), map[string]any{
		"execution_id": s.exec.ID, "diagnostic": diag,
	})
	switch status {
	case execstore.StatusCompleted:
		logger.Info("Execution completed.", "nodes_completed", s.completed)
		return nil
	case execstore.StatusTerminated:
		logger.Info("Execution terminated.")
		return nil
	default:
		logger.Error("Execution failed.", "diagnostic", diag)
		return fmt.Errorf("scheduler: execution %s failed: %s", s.exec.ID, diag)
	}
}

// starvedNode describes one permanently unsatisfiable node for the settle
// diagnostic.
type starvedNode struct {
	Node string
	Pins []string
}

func (n starvedNode) String() string {
	return fmt.Sprintf("%s(missing: %s)", n.Node, strings.Join(n.Pins, ","))
}

// starvedNodes returns the never-activated nodes whose required inputs are
// unsatisfied and whose silence is not explained by an upstream failure or
// termination. Those explained by failure are ordinary skips, not
// deadlocks.
func (s *Scheduler) starvedNodes() []starvedNode {
	var out []starvedNode
	nodeIDs := make([]string, 0, len(s.def.Nodes))
	for id := range s.def.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		if s.activations[id] > 0 {
			continue
		}
		missing := s.res.Unsatisfied(id)
		if len(missing) == 0 {
			continue
		}
		if s.explainedByFailure(id, make(map[string]bool)) {
			continue
		}
		out = append(out, starvedNode{Node: id, Pins: missing})
	}
	return out
}

// explainedByFailure walks upstream looking for a FAILED or TERMINATED
// activation that accounts for the node never receiving its inputs.
func (s *Scheduler) explainedByFailure(nodeID string, visited map[string]bool) bool {
	if visited[nodeID] {
		return false
	}
	visited[nodeID] = true
	for _, links := range s.def.IncomingLinks(nodeID) {
		for _, l := range links {
			for _, st := range s.outcomes[l.SourceNode] {
				if st == execstore.StatusFailed || st == execstore.StatusTerminated {
					return true
				}
			}
			if s.activations[l.SourceNode] == 0 && s.explainedByFailure(l.SourceNode, visited) {
				return true
			}
		}
	}
	return false
}

func starvationDiagnostic(starved []starvedNode) string {
	parts := make([]string, len(starved))
	for i, n := range starved {
		parts[i] = n.String()
	}
	return "settle timeout: unresolved nodes: " + strings.Join(parts, "; ")
}

func (s *Scheduler) terminated() bool {
	select {
	case <-s.terminate:
		return true
	default:
		return false
	}
}

func (s *Scheduler) emit(ctx context.Context, kind string, payload map[string]any) {
	s.opts.Emitter.Emit(ctx, events.Event{Kind: kind, At: time.Now().UTC(), Payload: payload})
}
