// Package queue provides the async analysis queue: an in-memory run
// store and a worker pool that drains it through the pipeline.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/faultline-io/faultline/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates no pending runs are in the queue.
	ErrNoRunsAvailable = errors.New("no runs available")

	// ErrAtCapacity indicates the concurrent run limit has been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrQueueFull indicates the pending backlog hit max_queue_depth.
	ErrQueueFull = errors.New("queue full")

	// ErrRunNotFound indicates the analysis ID is unknown.
	ErrRunNotFound = errors.New("run not found")
)

// Run status values.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
	RunTimedOut  = "timed_out"
)

// Run is one queued analysis and its lifecycle record.
type Run struct {
	ID          string                   `json:"analysis_id"`
	Request     models.AnalysisRequest   `json:"request"`
	Status      string                   `json:"status"`
	EnqueuedAt  time.Time                `json:"enqueued_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	Response    *models.AnalysisResponse `json:"response,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// RunExecutor runs one analysis to its verdict. The orchestrator
// implements this; workers only handle claiming, timeout mapping, and
// the terminal status update.
type RunExecutor interface {
	Execute(ctx context.Context, run *Run) *ExecutionResult
}

// ExecutionResult is the terminal state of one run.
type ExecutionResult struct {
	Status   string // completed, failed, timed_out, cancelled
	Response *models.AnalysisResponse
	Error    error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveRuns    int            `json:"active_runs"`
	MaxConcurrent int            `json:"max_concurrent"`
	QueueDepth    int            `json:"queue_depth"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentRunID  string    `json:"current_run_id,omitempty"`
	RunsProcessed int       `json:"runs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
