package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/models"
)

type fakeCollector struct {
	kind    models.SourceKind
	collect func(ctx context.Context, snap models.Snapshot) (*Result, error)
}

func (f *fakeCollector) Kind() models.SourceKind { return f.kind }

func (f *fakeCollector) Collect(ctx context.Context, snap models.Snapshot) (*Result, error) {
	return f.collect(ctx, snap)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSuccess(t *testing.T) {
	conf := 0.8
	c := &fakeCollector{
		kind: models.SourceLog,
		collect: func(ctx context.Context, snap models.Snapshot) (*Result, error) {
			return &Result{
				Evidence:   []models.Evidence{{ID: "ev-1", Source: models.SourceLog, Content: "OOM killed"}},
				Confidence: &conf,
			}, nil
		},
	}

	patch := Run(context.Background(), discard(), c, models.Snapshot{}, time.Second)
	require.Equal(t, models.AgentStatusCompleted, patch.Record.Status)
	assert.Equal(t, 1, patch.Record.EvidenceCount)
	require.NotNil(t, patch.Record.Confidence)
	assert.Equal(t, 0.8, *patch.Record.Confidence)
	assert.Empty(t, patch.Errors)
}

func TestRunSoftTimeout(t *testing.T) {
	c := &fakeCollector{
		kind: models.SourceMetrics,
		collect: func(ctx context.Context, snap models.Snapshot) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	patch := Run(context.Background(), discard(), c, models.Snapshot{}, 20*time.Millisecond)
	assert.Equal(t, models.AgentStatusTimedOut, patch.Record.Status)
	assert.Empty(t, patch.Evidence)
	require.Len(t, patch.Errors, 1)
	assert.Contains(t, patch.Errors[0], "metrics")
}

func TestRunParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &fakeCollector{
		kind: models.SourceRAG,
		collect: func(ctx context.Context, snap models.Snapshot) (*Result, error) {
			return nil, ctx.Err()
		},
	}

	patch := Run(ctx, discard(), c, models.Snapshot{}, time.Second)
	assert.Equal(t, models.AgentStatusCancelled, patch.Record.Status)
}

func TestRunFailure(t *testing.T) {
	c := &fakeCollector{
		kind: models.SourceDashboard,
		collect: func(ctx context.Context, snap models.Snapshot) (*Result, error) {
			return nil, errors.New("backend unreachable")
		},
	}

	patch := Run(context.Background(), discard(), c, models.Snapshot{}, time.Second)
	assert.Equal(t, models.AgentStatusFailed, patch.Record.Status)
	require.Len(t, patch.Errors, 1)
	assert.Contains(t, patch.Errors[0], "backend unreachable")
}

func TestRunPanicRecovered(t *testing.T) {
	c := &fakeCollector{
		kind: models.SourceImage,
		collect: func(ctx context.Context, snap models.Snapshot) (*Result, error) {
			panic("boom")
		},
	}

	patch := Run(context.Background(), discard(), c, models.Snapshot{}, time.Second)
	assert.Equal(t, models.AgentStatusFailed, patch.Record.Status)
	require.Len(t, patch.Errors, 1)
	assert.Contains(t, patch.Errors[0], "panicked")
}

func TestRunPartialEvidenceOnTimeout(t *testing.T) {
	c := &fakeCollector{
		kind: models.SourceLog,
		collect: func(ctx context.Context, snap models.Snapshot) (*Result, error) {
			partial := &Result{Evidence: []models.Evidence{{ID: "ev-partial", Source: models.SourceLog}}}
			<-ctx.Done()
			return partial, ctx.Err()
		},
	}

	patch := Run(context.Background(), discard(), c, models.Snapshot{}, 20*time.Millisecond)
	assert.Equal(t, models.AgentStatusTimedOut, patch.Record.Status)
	assert.Len(t, patch.Evidence, 1)
	assert.Equal(t, 1, patch.Record.EvidenceCount)
}
