package timeline

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/models"
)

var incidentTime = time.Date(2024, 3, 5, 14, 12, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func newCorrelator() *Correlator {
	return New(2*time.Minute, 5*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func snapshot(evidence []models.Evidence) models.Snapshot {
	bundle := models.EvidenceBundle{}
	for _, ev := range evidence {
		switch ev.Source {
		case models.SourceLog:
			bundle.Logs = append(bundle.Logs, ev)
		case models.SourceRAG:
			bundle.RAG = append(bundle.RAG, ev)
		case models.SourceMetrics:
			bundle.Metrics = append(bundle.Metrics, ev)
		case models.SourceDashboard:
			bundle.Dashboards = append(bundle.Dashboards, ev)
		case models.SourceImage:
			bundle.Images = append(bundle.Images, ev)
		}
	}
	return models.Snapshot{
		Evidence: bundle,
		Plan: models.Plan{
			IncidentTime: incidentTime,
			SearchWindows: map[models.SourceKind]models.Window{
				models.SourceLog: {Before: 30 * time.Minute, After: 30 * time.Minute},
			},
		},
	}
}

func TestEventsSortedByTime(t *testing.T) {
	evidence := []models.Evidence{
		{ID: "e2", Source: models.SourceLog, Content: "error burst",
			Timestamp: ptr(incidentTime.Add(2 * time.Minute)), Confidence: 0.8,
			Log: &models.LogPayload{Level: "ERROR"}},
		{ID: "e1", Source: models.SourceDashboard, Content: "Deployed payments v2.3.1",
			Timestamp: ptr(incidentTime.Add(-time.Minute)), Confidence: 0.8},
	}

	events, _, _ := newCorrelator().Build(snapshot(evidence))
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].EvidenceID)
	assert.Equal(t, "e2", events[1].EvidenceID)
}

func TestDeploymentErrorCorrelation(t *testing.T) {
	evidence := []models.Evidence{
		{ID: "dep", Source: models.SourceDashboard, Content: "Deployed payments v2.3.1",
			Timestamp: ptr(incidentTime), Confidence: 0.8},
		{ID: "err", Source: models.SourceLog, Content: "500 errors from payments",
			Timestamp: ptr(incidentTime.Add(25 * time.Second)), Confidence: 0.7,
			Log: &models.LogPayload{Level: "ERROR"}},
	}

	_, correlations, _ := newCorrelator().Build(snapshot(evidence))
	require.Len(t, correlations, 1)

	corr := correlations[0]
	assert.Equal(t, "deployment_followed_by_errors", corr.Pattern)
	assert.Equal(t, []string{"dep", "err"}, corr.EvidenceIDs)
	assert.Equal(t, 25.0, corr.DeltaSeconds)
	assert.Equal(t, "strong", corr.Strength)
}

func TestNoCorrelationAcrossSameSource(t *testing.T) {
	evidence := []models.Evidence{
		{ID: "a", Source: models.SourceLog, Content: "deploy started",
			Timestamp: ptr(incidentTime), Confidence: 0.5},
		{ID: "b", Source: models.SourceLog, Content: "error after",
			Timestamp: ptr(incidentTime.Add(10 * time.Second)), Confidence: 0.5,
			Log: &models.LogPayload{Level: "ERROR"}},
	}

	_, correlations, _ := newCorrelator().Build(snapshot(evidence))
	assert.Empty(t, correlations)
}

func TestEventsOutsideWindowNotCorrelated(t *testing.T) {
	evidence := []models.Evidence{
		{ID: "dep", Source: models.SourceDashboard, Content: "deployment rolled out",
			Timestamp: ptr(incidentTime), Confidence: 0.8},
		{ID: "err", Source: models.SourceLog, Content: "errors much later",
			Timestamp: ptr(incidentTime.Add(10 * time.Minute)), Confidence: 0.7,
			Log: &models.LogPayload{Level: "ERROR"}},
	}

	_, correlations, _ := newCorrelator().Build(snapshot(evidence))
	assert.Empty(t, correlations)
}

func TestTimestamplessAttachedToSameSourceAnchor(t *testing.T) {
	evidence := []models.Evidence{
		{ID: "anchored", Source: models.SourceLog, Content: "error with time",
			Timestamp: ptr(incidentTime.Add(time.Minute)), Confidence: 0.6,
			Log: &models.LogPayload{Level: "ERROR"}},
		{ID: "floating", Source: models.SourceLog, Content: "error without time",
			Confidence: 0.6, Log: &models.LogPayload{Level: "ERROR"}},
	}

	events, _, _ := newCorrelator().Build(snapshot(evidence))
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Time, events[1].Time)
}

func TestSilentIntervalReported(t *testing.T) {
	evidence := []models.Evidence{
		{ID: "early", Source: models.SourceLog, Content: "error at window start",
			Timestamp: ptr(incidentTime.Add(-28 * time.Minute)), Confidence: 0.6,
			Log: &models.LogPayload{Level: "ERROR"}},
		{ID: "late", Source: models.SourceLog, Content: "error at window end",
			Timestamp: ptr(incidentTime.Add(28 * time.Minute)), Confidence: 0.6,
			Log: &models.LogPayload{Level: "ERROR"}},
	}

	_, _, gaps := newCorrelator().Build(snapshot(evidence))
	var silent []models.Gap
	for _, g := range gaps {
		if g.MissingSource == "" {
			silent = append(silent, g)
		}
	}
	require.NotEmpty(t, silent)
	assert.GreaterOrEqual(t, silent[0].End.Sub(silent[0].Start), 5*time.Minute)
}

func TestMissingRequiredSourceReported(t *testing.T) {
	snap := snapshot([]models.Evidence{
		{ID: "m", Source: models.SourceMetrics, Content: "spike",
			Timestamp: ptr(incidentTime), Confidence: 0.7},
	})
	snap.Plan.RequiredAgents = []models.SourceKind{models.SourceMetrics, models.SourceLog}

	_, _, gaps := newCorrelator().Build(snap)
	var missing []models.SourceKind
	for _, g := range gaps {
		if g.MissingSource != "" {
			missing = append(missing, g.MissingSource)
		}
	}
	assert.Equal(t, []models.SourceKind{models.SourceLog}, missing)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ev   models.Evidence
		want models.EventClass
	}{
		{"deployment annotation", models.Evidence{Source: models.SourceDashboard,
			Content: "Deployed payments v2.3.1"}, models.ClassDeployment},
		{"metric anomaly", models.Evidence{Source: models.SourceMetrics,
			Content: "http_errors_total spike"}, models.ClassMetricAnomaly},
		{"error log", models.Evidence{Source: models.SourceLog, Content: "request failed",
			Log: &models.LogPayload{Level: "ERROR"}}, models.ClassError},
		{"capacity", models.Evidence{Source: models.SourceLog,
			Content: "container killed, out of memory"}, models.ClassCapacity},
		{"performance", models.Evidence{Source: models.SourceLog,
			Content: "p99 latency degraded"}, models.ClassPerformance},
		{"configuration", models.Evidence{Source: models.SourceLog,
			Content: "feature flag toggled"}, models.ClassConfiguration},
		{"other", models.Evidence{Source: models.SourceRAG,
			Content: "similar incident writeup"}, models.ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ev))
		})
	}
}
