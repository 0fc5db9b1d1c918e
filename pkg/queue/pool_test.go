package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/models"
)

type stubExecutor struct {
	mu       sync.Mutex
	executed []string
	block    chan struct{} // when set, Execute waits for it (or ctx)
	result   func(run *Run) *ExecutionResult
}

func (e *stubExecutor) Execute(ctx context.Context, run *Run) *ExecutionResult {
	e.mu.Lock()
	e.executed = append(e.executed, run.ID)
	e.mu.Unlock()

	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return &ExecutionResult{Status: RunCancelled, Error: ctx.Err()}
		}
	}
	if e.result != nil {
		return e.result(run)
	}
	return &ExecutionResult{
		Status:   RunCompleted,
		Response: &models.AnalysisResponse{AnalysisID: run.ID, Status: models.StatusAnswer},
	}
}

func (e *stubExecutor) executedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:       2,
		MaxQueueDepth:     8,
		MaxConcurrentRuns: 2,
		PollIntervalMS:    10,
		PollJitterMS:      5,
	}
}

func waitForStatus(t *testing.T, store *Store, id, status string) *Run {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.Get(id)
		require.NoError(t, err)
		if run.Status == status {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	run, _ := store.Get(id)
	t.Fatalf("run %s never reached %s (last status %s)", id, status, run.Status)
	return nil
}

func TestPoolDrainsQueue(t *testing.T) {
	store := NewStore(8)
	executor := &stubExecutor{}
	pool := NewWorkerPool(store, testQueueConfig(), executor, nil)

	pool.Start(context.Background())
	defer pool.Stop()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := store.Enqueue(testRequest("api errors"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		run := waitForStatus(t, store, id, RunCompleted)
		require.NotNil(t, run.Response)
	}
	assert.Len(t, executor.executedIDs(), 4)
}

func TestPoolCancelRunningRun(t *testing.T) {
	store := NewStore(8)
	executor := &stubExecutor{block: make(chan struct{})}
	cfg := testQueueConfig()
	cfg.WorkerCount = 1
	pool := NewWorkerPool(store, cfg, executor, nil)

	pool.Start(context.Background())
	defer pool.Stop()

	id, err := store.Enqueue(testRequest("api errors"))
	require.NoError(t, err)
	waitForStatus(t, store, id, RunRunning)

	require.True(t, pool.CancelRun(id))
	run := waitForStatus(t, store, id, RunCancelled)
	assert.NotEmpty(t, run.Error)
}

func TestPoolCancelPendingRun(t *testing.T) {
	store := NewStore(8)
	// No workers running, so the run stays pending.
	pool := NewWorkerPool(store, testQueueConfig(), &stubExecutor{}, nil)

	id, err := store.Enqueue(testRequest("api errors"))
	require.NoError(t, err)

	assert.True(t, pool.CancelRun(id))
	run, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, run.Status)
}

func TestPoolCancelUnknownRun(t *testing.T) {
	pool := NewWorkerPool(NewStore(8), testQueueConfig(), &stubExecutor{}, nil)
	assert.False(t, pool.CancelRun("nope"))
}

func TestPoolNotifiesRunObserverWithVerdictStatus(t *testing.T) {
	store := NewStore(8)
	executor := &stubExecutor{result: func(run *Run) *ExecutionResult {
		return &ExecutionResult{
			Status:   RunCompleted,
			Response: &models.AnalysisResponse{AnalysisID: run.ID, Status: models.StatusRefuse},
		}
	}}
	pool := NewWorkerPool(store, testQueueConfig(), executor, nil)

	var mu sync.Mutex
	var observed []string
	pool.SetRunObserver(func(status string) {
		mu.Lock()
		observed = append(observed, status)
		mu.Unlock()
	})

	pool.Start(context.Background())
	defer pool.Stop()

	id, err := store.Enqueue(testRequest("api errors"))
	require.NoError(t, err)
	waitForStatus(t, store, id, RunCompleted)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(observed)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, observed, 1)
	assert.Equal(t, models.StatusRefuse, observed[0])
}

func TestPoolConcurrentStartSpawnsWorkersOnce(t *testing.T) {
	store := NewStore(8)
	pool := NewWorkerPool(store, testQueueConfig(), &stubExecutor{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Start(context.Background())
		}()
	}
	wg.Wait()
	defer pool.Stop()

	assert.Equal(t, 2, pool.Health().TotalWorkers)
}

func TestPoolHealth(t *testing.T) {
	store := NewStore(8)
	pool := NewWorkerPool(store, testQueueConfig(), &stubExecutor{}, nil)

	pool.Start(context.Background())
	defer pool.Stop()

	health := pool.Health()
	assert.True(t, health.IsHealthy)
	assert.Equal(t, 2, health.TotalWorkers)
	assert.Equal(t, 2, health.MaxConcurrent)
	assert.Len(t, health.WorkerStats, 2)
}

func TestPoolStopFinishesCurrentRun(t *testing.T) {
	store := NewStore(8)
	block := make(chan struct{})
	executor := &stubExecutor{block: block}
	cfg := testQueueConfig()
	cfg.WorkerCount = 1
	pool := NewWorkerPool(store, cfg, executor, nil)

	pool.Start(context.Background())

	id, err := store.Enqueue(testRequest("api errors"))
	require.NoError(t, err)
	waitForStatus(t, store, id, RunRunning)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	// Stop blocks while the run is in flight.
	select {
	case <-done:
		t.Fatal("Stop returned before the in-flight run finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}

	run, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
}
