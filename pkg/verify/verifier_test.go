package verify

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

func newVerifier() *Verifier {
	return New(2, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func plan() models.Plan {
	return models.Plan{
		IncidentTime: incidentTime,
		SearchWindows: map[models.SourceKind]models.Window{
			models.SourceLog: {Before: 30 * time.Minute, After: 30 * time.Minute},
		},
	}
}

func deploymentHypothesis() models.Hypothesis {
	return models.Hypothesis{
		ID:                 "hyp-1",
		RootCause:          "A recent deployment to payments introduced a regression",
		Plausibility:       0.8,
		SupportingEvidence: []string{"ev-dep", "ev-log", "ev-metric"},
	}
}

func supportedSnapshot() models.Snapshot {
	return models.Snapshot{
		Plan: plan(),
		Evidence: models.EvidenceBundle{
			Dashboards: []models.Evidence{{ID: "ev-dep", Source: models.SourceDashboard,
				Content: "annotation: Deployed payments v2.3.1", Confidence: 0.8,
				Timestamp: ptr(incidentTime.Add(-5 * time.Minute))}},
			Logs: []models.Evidence{{ID: "ev-log", Source: models.SourceLog,
				Content: "500 errors from payments", Confidence: 0.75,
				Timestamp: ptr(incidentTime.Add(time.Minute))}},
			Metrics: []models.Evidence{{ID: "ev-metric", Source: models.SourceMetrics,
				Content: "error_rate spike for payments", Confidence: 0.85,
				Timestamp: ptr(incidentTime.Add(2 * time.Minute))}},
		},
		Hypotheses: []models.Hypothesis{deploymentHypothesis()},
	}
}

func TestSupportedVerdict(t *testing.T) {
	results := newVerifier().Verify(supportedSnapshot())
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, models.VerdictSupported, r.Verdict)
	assert.Equal(t, 3, r.IndependentSources)
	assert.Empty(t, r.Contradictions)
	// 3 sources saturate the base, all in window: confidence = avg.
	assert.InDelta(t, 0.8, r.Confidence, 0.01)
	assert.Len(t, r.EvidenceSummary, 3)
}

func TestInsufficientEvidenceWithOneSource(t *testing.T) {
	snap := supportedSnapshot()
	snap.Evidence.Dashboards = nil
	snap.Evidence.Metrics = nil
	snap.Hypotheses[0].SupportingEvidence = []string{"ev-log"}

	results := newVerifier().Verify(snap)
	require.Len(t, results, 1)
	assert.Equal(t, models.VerdictInsufficientEvidence, results[0].Verdict)
	assert.Equal(t, 1, results[0].IndependentSources)
}

func TestContradictedVerdict(t *testing.T) {
	snap := supportedSnapshot()
	snap.Evidence.Dashboards = []models.Evidence{{ID: "ev-dep", Source: models.SourceDashboard,
		Content: "no deployment in the incident window", Confidence: 0.9,
		Timestamp: ptr(incidentTime)}}
	// Thin out support so the penalized confidence lands below 0.4.
	snap.Evidence.Metrics = nil
	snap.Hypotheses[0].SupportingEvidence = []string{"ev-log"}

	results := newVerifier().Verify(snap)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, models.VerdictContradicted, r.Verdict)
	require.Len(t, r.Contradictions, 1)
	assert.Contains(t, r.Contradictions[0], "no deployment")
	assert.Less(t, r.Confidence, 0.4)
}

func TestContradictionNeverSupported(t *testing.T) {
	snap := supportedSnapshot()
	snap.Evidence.RAG = []models.Evidence{{ID: "ev-contra", Source: models.SourceRAG,
		Content: "change log shows no deployment that day", Confidence: 0.9,
		Timestamp: ptr(incidentTime)}}

	results := newVerifier().Verify(snap)
	require.Len(t, results, 1)
	assert.NotEqual(t, models.VerdictSupported, results[0].Verdict)
}

func TestOutOfWindowEvidenceDegradesConfidence(t *testing.T) {
	inWindow := newVerifier().Verify(supportedSnapshot())[0].Confidence

	snap := supportedSnapshot()
	late := incidentTime.Add(6 * time.Hour)
	snap.Evidence.Logs[0].Timestamp = &late

	degraded := newVerifier().Verify(snap)[0].Confidence
	assert.Less(t, degraded, inWindow)
}

func TestNoSupportingEvidenceScoresZero(t *testing.T) {
	snap := models.Snapshot{
		Plan:       plan(),
		Hypotheses: []models.Hypothesis{{ID: "hyp-1", RootCause: "cosmic rays flipped a bit"}},
	}
	results := newVerifier().Verify(snap)
	require.Len(t, results, 1)
	assert.Equal(t, models.VerdictInsufficientEvidence, results[0].Verdict)
	assert.Zero(t, results[0].Confidence)
}

func TestOverallConfidencePrefersSupported(t *testing.T) {
	results := []models.VerificationResult{
		{Verdict: models.VerdictInsufficientEvidence, Confidence: 0.9},
		{Verdict: models.VerdictSupported, Confidence: 0.7},
	}
	assert.Equal(t, 0.7, OverallConfidence(results))

	none := []models.VerificationResult{
		{Verdict: models.VerdictInsufficientEvidence, Confidence: 0.45},
		{Verdict: models.VerdictContradicted, Confidence: 0.2},
	}
	assert.Equal(t, 0.45, OverallConfidence(none))
	assert.Zero(t, OverallConfidence(nil))
}

func TestNeedsEnrichment(t *testing.T) {
	weak := []models.VerificationResult{{Confidence: 0.3}, {Confidence: 0.5}}
	assert.True(t, NeedsEnrichment(weak, 0.7))

	strong := []models.VerificationResult{{Confidence: 0.3}, {Confidence: 0.8}}
	assert.False(t, NeedsEnrichment(strong, 0.7))

	assert.False(t, NeedsEnrichment(nil, 0.7))
}

func TestWeakestHypotheses(t *testing.T) {
	snap := models.Snapshot{Hypotheses: []models.Hypothesis{
		{ID: "a", RootCause: "strong one"},
		{ID: "b", RootCause: "weak one"},
	}}
	results := []models.VerificationResult{
		{HypothesisID: "a", Confidence: 0.8},
		{HypothesisID: "b", Confidence: 0.2},
	}

	weakest := WeakestHypotheses(snap, results, 1)
	require.Len(t, weakest, 1)
	assert.Equal(t, "b", weakest[0].ID)
}
