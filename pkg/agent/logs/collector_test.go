package logs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/vector"
)

var incidentTime = time.Date(2024, 3, 5, 14, 12, 0, 0, time.UTC)

func stamp(t time.Time) string { return t.Format(time.RFC3339) }

func snapshot(logs []models.LogEntry) models.Snapshot {
	return models.Snapshot{
		Request: models.AnalysisRequest{Query: "payments errors", Logs: logs},
		Plan: models.Plan{
			IncidentTime:     incidentTime,
			AffectedServices: []string{"payments"},
			Symptoms:         []string{"error", "deployment"},
			SearchWindows: map[models.SourceKind]models.Window{
				models.SourceLog: {Before: 30 * time.Minute, After: 30 * time.Minute},
			},
		},
	}
}

func TestScanRequestLogs(t *testing.T) {
	lines := []models.LogEntry{
		{Time: stamp(incidentTime.Add(2 * time.Minute)), Level: "ERROR", Service: "payments",
			Message: "connection refused to db error"},
		{Time: stamp(incidentTime.Add(-5 * time.Minute)), Level: "INFO", Service: "payments",
			Message: "request served"},
		{Time: stamp(incidentTime.Add(2 * time.Hour)), Level: "ERROR", Service: "payments",
			Message: "outside the window"},
		{Time: stamp(incidentTime), Level: "ERROR", Service: "unrelated-svc",
			Message: "not an affected service"},
	}

	c := New(nil, 20, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot(lines))
	require.NoError(t, err)
	require.Len(t, res.Evidence, 2)

	// Error line ranked above the info line.
	assert.Equal(t, "connection refused to db error", res.Evidence[0].Content)
	assert.Greater(t, res.Evidence[0].Confidence, res.Evidence[1].Confidence)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, res.Evidence[0].Confidence, *res.Confidence)
}

func TestVectorPath(t *testing.T) {
	store, err := vector.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	err = store.Index(context.Background(), vector.CorpusLogs, []vector.Document{
		{ID: "l1", Content: "payments deployment triggered cascading error storm",
			Fields: map[string]string{"service": "payments", "level": "ERROR",
				"time": incidentTime.Add(time.Minute).Format(time.RFC3339)}},
		{ID: "l2", Content: "scheduled cleanup completed",
			Fields: map[string]string{"service": "cron", "level": "INFO"}},
	})
	require.NoError(t, err)

	c := New(store, 20, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.minSimilarity = 0.05
	res, err := c.Collect(context.Background(), snapshot(nil))
	require.NoError(t, err)
	require.NotEmpty(t, res.Evidence)

	top := res.Evidence[0]
	assert.Equal(t, models.SourceLog, top.Source)
	assert.Equal(t, "vector", top.Metadata["retrieval"])
	assert.Equal(t, "payments", top.Log.Service)
	require.NotNil(t, top.Timestamp)
}

func TestEvidenceCapped(t *testing.T) {
	var lines []models.LogEntry
	for i := 0; i < 30; i++ {
		lines = append(lines, models.LogEntry{
			Time: stamp(incidentTime), Level: "ERROR", Service: "payments", Message: "error burst",
		})
	}

	c := New(nil, 5, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot(lines))
	require.NoError(t, err)
	assert.Len(t, res.Evidence, 5)
}

func TestNoLogsProducesEmptyResult(t *testing.T) {
	c := New(nil, 20, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Evidence)
	assert.Nil(t, res.Confidence)
}
