// Package agent defines the evidence collector contract and the
// execution harness that runs collectors with soft timeouts and
// failure isolation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/faultline-io/faultline/pkg/models"
)

// Result is what a collector produces on success. Evidence may be
// empty; Confidence, when set, is the collector's own assessment of
// its strongest finding.
type Result struct {
	Evidence   []models.Evidence
	Confidence *float64
	Iterations int
}

// Collector gathers evidence of one source kind. Implementations
// read the snapshot and return a result; they never mutate shared
// state.
type Collector interface {
	// Kind identifies the evidence source this collector produces.
	Kind() models.SourceKind

	// Collect gathers evidence for the run described by the snapshot.
	// It must honor ctx cancellation.
	Collect(ctx context.Context, snap models.Snapshot) (*Result, error)
}

// Run executes a collector under a soft timeout and converts the
// outcome into a patch. Collector failures and panics never escape:
// they become a failed agent record with zero evidence.
func Run(ctx context.Context, logger *slog.Logger, c Collector, snap models.Snapshot, timeout time.Duration) *models.Patch {
	start := time.Now()
	record := models.AgentRecord{
		Agent:     string(c.Kind()),
		StartedAt: start.UTC(),
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := collect(cctx, c, snap)
	if err == nil {
		record.Status = models.AgentStatusCompleted
		record.EvidenceCount = len(result.Evidence)
		record.Confidence = result.Confidence
		record.Iterations = result.Iterations
		record.DurationMS = time.Since(start).Milliseconds()
		return &models.Patch{Evidence: result.Evidence, Record: record}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		record.Status = models.AgentStatusTimedOut
		record.Error = fmt.Sprintf("%s agent exceeded %s timeout", c.Kind(), timeout)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		record.Status = models.AgentStatusCancelled
		record.Error = fmt.Sprintf("%s agent cancelled: %v", c.Kind(), err)
	default:
		record.Status = models.AgentStatusFailed
		record.Error = fmt.Sprintf("%s agent failed: %v", c.Kind(), err)
	}
	record.DurationMS = time.Since(start).Milliseconds()

	logger.Warn("Agent did not complete",
		slog.String("agent", string(c.Kind())),
		slog.String("status", record.Status),
		slog.String("error", record.Error))

	// Partial evidence from a timed-out collector is kept. The record
	// carries the failure either way.
	patch := &models.Patch{Record: record, Errors: []string{record.Error}}
	if result != nil {
		patch.Evidence = result.Evidence
		patch.Record.EvidenceCount = len(result.Evidence)
	}
	return patch
}

// collect invokes the collector, converting panics into errors so a
// single misbehaving agent cannot take down the run.
func collect(ctx context.Context, c Collector, snap models.Snapshot) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("collector panicked: %v\n%s", r, debug.Stack())
		}
	}()

	result, err = c.Collect(ctx, snap)
	if err != nil {
		return result, err
	}
	if result == nil {
		result = &Result{}
	}
	return result, nil
}
