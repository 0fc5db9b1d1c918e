package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline/pkg/models"
)

// Store holds analysis runs in memory. Claiming is FIFO over pending
// runs; every mutation happens under the store lock so workers racing
// for the same run cannot double-claim it.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	maxDepth int
}

// NewStore creates a store with the given pending backlog limit.
func NewStore(maxDepth int) *Store {
	if maxDepth <= 0 {
		maxDepth = 32
	}
	return &Store{
		runs:     make(map[string]*Run),
		maxDepth: maxDepth,
	}
}

// Enqueue adds a pending run and returns its ID. Fails with
// ErrQueueFull when the pending backlog is at capacity.
func (s *Store) Enqueue(req models.AnalysisRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, r := range s.runs {
		if r.Status == RunPending {
			pending++
		}
	}
	if pending >= s.maxDepth {
		return "", ErrQueueFull
	}

	id := uuid.New().String()
	s.runs[id] = &Run{
		ID:         id,
		Request:    req,
		Status:     RunPending,
		EnqueuedAt: time.Now().UTC(),
	}
	return id, nil
}

// ClaimNext atomically claims the oldest pending run, marking it
// running. Returns a copy; the worker reports completion via Complete.
func (s *Store) ClaimNext() (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Run
	for _, r := range s.runs {
		if r.Status != RunPending {
			continue
		}
		if oldest == nil || r.EnqueuedAt.Before(oldest.EnqueuedAt) {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, ErrNoRunsAvailable
	}

	now := time.Now().UTC()
	oldest.Status = RunRunning
	oldest.StartedAt = &now

	claimed := *oldest
	return &claimed, nil
}

// Complete records the terminal state for a run.
func (s *Store) Complete(id string, result *ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	now := time.Now().UTC()
	r.Status = result.Status
	r.CompletedAt = &now
	r.Response = result.Response
	if result.Error != nil {
		r.Error = result.Error.Error()
	}
	return nil
}

// CancelPending cancels a run that has not started yet. Returns false
// when the run is already running or terminal; running runs are
// cancelled through the pool's context registry instead.
func (s *Store) CancelPending(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return false, ErrRunNotFound
	}
	if r.Status != RunPending {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = RunCancelled
	r.CompletedAt = &now
	return true, nil
}

// Get returns a copy of the run.
func (s *Store) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *r
	return &copied, nil
}

// List returns copies of all runs, newest first.
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		copied := *r
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
	})
	return out
}

// Depth returns the number of pending runs.
func (s *Store) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.runs {
		if r.Status == RunPending {
			n++
		}
	}
	return n
}

// ActiveCount returns the number of running runs.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.runs {
		if r.Status == RunRunning {
			n++
		}
	}
	return n
}
