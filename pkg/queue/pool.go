package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/events"
)

// WorkerPool manages a pool of queue workers draining the run store.
type WorkerPool struct {
	store     *Store
	config    *config.QueueConfig
	executor  RunExecutor
	publisher *events.Publisher
	workers   []*Worker

	// Run cancel registry: analysis_id → cancel function
	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool
	observe    func(status string)
}

// NewWorkerPool creates a new worker pool. publisher may be nil
// (real-time streaming disabled).
func NewWorkerPool(store *Store, cfg *config.QueueConfig, executor RunExecutor, publisher *events.Publisher) *WorkerPool {
	return &WorkerPool{
		store:      store,
		config:     cfg,
		executor:   executor,
		publisher:  publisher,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// SetRunObserver registers a callback notified with the terminal
// status of every run the pool finishes, for instrumentation. Must be
// called before Start.
func (p *WorkerPool) SetRunObserver(fn func(status string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observe = fn
}

// Start spawns the worker goroutines. Safe to call multiple times,
// concurrently included; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		worker := NewWorker(workerID, p.store, p.config, p.executor, p, p.publisher, p.observe)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current runs before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveRunIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active runs to complete",
			"count", len(active), "run_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	slog.Info("Worker pool stopped gracefully")
}

// RegisterRun stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterRun(analysisID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRuns[analysisID] = cancel
}

// UnregisterRun removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterRun(analysisID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeRuns, analysisID)
}

// CancelRun cancels a run. Pending runs are cancelled in the store;
// running runs get their context cancelled and the owning worker
// records the terminal status. Returns false if the run is unknown or
// already terminal.
func (p *WorkerPool) CancelRun(analysisID string) bool {
	if ok, err := p.store.CancelPending(analysisID); err == nil && ok {
		return true
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeRuns[analysisID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	activeRuns := p.store.ActiveCount()
	isHealthy := len(p.workers) > 0 && activeRuns <= p.config.MaxConcurrentRuns

	return &PoolHealth{
		IsHealthy:     isHealthy,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		ActiveRuns:    activeRuns,
		MaxConcurrent: p.config.MaxConcurrentRuns,
		QueueDepth:    p.store.Depth(),
		WorkerStats:   workerStats,
	}
}

// getActiveRunIDs returns IDs of currently processing runs (for logging).
func (p *WorkerPool) getActiveRunIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeRuns))
	for id := range p.activeRuns {
		ids = append(ids, id)
	}
	return ids
}
