package scheduler

import (
	"context"
	"time"

	"github.com/vk/agentgridgo/internal/ctxlog"
	"github.com/vk/agentgridgo/internal/execstore"
)

// worker is the processing loop of one concurrent worker. It promotes the
// activation to RUNNING, calls the block executor, and reports the outcome
// back to the coordinator, which owns all remaining bookkeeping.
func (s *Scheduler) worker(ctx context.Context, workerID int, ready <-chan *activation, results chan<- *result) {
	logger := ctxlog.FromContext(ctx).With("worker_id", workerID)
	logger.Debug("Worker started.")

	for act := range ready {
		if ctx.Err() != nil {
			// Torn down between admission and pickup; hand the activation
			// back undispatched.
			results <- &result{act: act}
			continue
		}

		workerLogger := logger.With("node", act.node.ID, "node_execution_id", act.ne.ID)
		if err := s.store.AppendNodeTransition(ctx, s.exec.ID, act.ne.ID, execstore.StatusRunning, ""); err != nil {
			workerLogger.Error("Failed to mark node running.", "error", err)
			results <- &result{act: act, err: err, dispatched: true}
			continue
		}
		s.opts.Metrics.ObserveDispatch()

		workerLogger.Debug("Worker picked up node for execution.", "block", act.node.Block)
		start := time.Now()
		outputs, err := s.blocks.Execute(ctx, act.node.Block, act.inputs)
		results <- &result{
			act:        act,
			outputs:    outputs,
			err:        err,
			duration:   time.Since(start),
			dispatched: true,
		}
	}
	logger.Debug("Worker finished.")
}
