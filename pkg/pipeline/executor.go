package pipeline

import (
	"context"
	"errors"

	"github.com/faultline-io/faultline/pkg/queue"
)

// Executor adapts the orchestrator to the queue's run contract so
// analyses can execute asynchronously.
type Executor struct {
	orch *Orchestrator
}

// NewExecutor creates a queue executor backed by the orchestrator.
func NewExecutor(orch *Orchestrator) *Executor {
	return &Executor{orch: orch}
}

// Execute implements queue.RunExecutor. The pipeline always produces a
// structured response; only caller-initiated cancellation maps to a
// non-completed queue status.
func (e *Executor) Execute(ctx context.Context, run *queue.Run) *queue.ExecutionResult {
	resp := e.orch.Analyze(ctx, run.ID, run.Request)

	if errors.Is(ctx.Err(), context.Canceled) {
		return &queue.ExecutionResult{
			Status:   queue.RunCancelled,
			Response: resp,
			Error:    context.Canceled,
		}
	}
	return &queue.ExecutionResult{Status: queue.RunCompleted, Response: resp}
}

var _ queue.RunExecutor = (*Executor)(nil)
