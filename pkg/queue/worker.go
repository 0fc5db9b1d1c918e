package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/events"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes runs.
type Worker struct {
	id        string
	store     *Store
	config    *config.QueueConfig
	executor  RunExecutor
	pool      RunRegistry
	publisher *events.Publisher
	observe   func(status string)
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// RunRegistry is the subset of WorkerPool used by Worker for run
// registration.
type RunRegistry interface {
	RegisterRun(analysisID string, cancel context.CancelFunc)
	UnregisterRun(analysisID string)
}

// NewWorker creates a new queue worker. publisher and observe may be
// nil.
func NewWorker(id string, store *Store, cfg *config.QueueConfig, executor RunExecutor, pool RunRegistry, publisher *events.Publisher, observe func(status string)) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		publisher:    publisher,
		observe:      observe,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a run, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Best-effort capacity check; racy with concurrent workers but
	// bounded by WorkerCount and mitigated by poll jitter.
	if w.store.ActiveCount() >= w.config.MaxConcurrentRuns {
		return ErrAtCapacity
	}

	run, err := w.store.ClaimNext()
	if err != nil {
		return err
	}

	log := slog.With("analysis_id", run.ID, "worker_id", w.id)
	log.Info("Run claimed")

	w.publisher.RunStatus(run.ID, events.RunStatusRunning)

	w.setStatus(WorkerStatusWorking, run.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// The executor owns the run deadline; this context only carries
	// API-triggered cancellation.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	w.pool.RegisterRun(run.ID, cancelRun)
	defer w.pool.UnregisterRun(run.ID)

	result := w.executor.Execute(runCtx, run)

	// Synthesize a safe result if the executor returned nil.
	if result == nil {
		if errors.Is(runCtx.Err(), context.Canceled) {
			result = &ExecutionResult{Status: RunCancelled, Error: context.Canceled}
		} else {
			result = &ExecutionResult{Status: RunFailed, Error: fmt.Errorf("executor returned nil result")}
		}
	}
	if result.Status == "" && errors.Is(runCtx.Err(), context.Canceled) {
		result = &ExecutionResult{Status: RunCancelled, Error: context.Canceled}
	}

	if err := w.store.Complete(run.ID, result); err != nil {
		log.Error("Failed to record run terminal status", "error", err)
		return err
	}

	// The pipeline publishes the run.completed payload itself; the
	// worker only reports the queue-level status transition.
	w.publisher.RunStatus(run.ID, result.Status)

	if w.observe != nil {
		status := result.Status
		if result.Response != nil {
			status = result.Response.Status
		}
		w.observe(status)
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("Run processing complete", "status", result.Status)
	return nil
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval()
	jitter := w.config.PollJitter()
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
