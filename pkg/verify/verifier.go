// Package verify scores every hypothesis against the collected
// evidence and assigns a verdict.
package verify

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/faultline-io/faultline/pkg/models"
)

const (
	supportedConfidenceFloor    = 0.5
	contradictedConfidenceCeil  = 0.4
	contradictionPenalty        = 0.4
	timelineConsistencyFloor    = 0.6
	independentSourceSaturation = 3
)

// Verifier scores hypotheses. MinSources is the number of independent
// source kinds required for a SUPPORTED verdict.
type Verifier struct {
	minSources int
	logger     *slog.Logger
}

// New creates a verifier.
func New(minSources int, logger *slog.Logger) *Verifier {
	if minSources <= 0 {
		minSources = 2
	}
	return &Verifier{minSources: minSources, logger: logger}
}

// Verify scores every hypothesis in the snapshot, in order.
func (v *Verifier) Verify(snap models.Snapshot) []models.VerificationResult {
	all := snap.AllEvidence()

	results := make([]models.VerificationResult, 0, len(snap.Hypotheses))
	for _, h := range snap.Hypotheses {
		results = append(results, v.verifyOne(h, all, snap))
	}
	return results
}

func (v *Verifier) verifyOne(h models.Hypothesis, all []models.Evidence, snap models.Snapshot) models.VerificationResult {
	supporting := collectSupporting(h, all)
	contradictions := collectContradictions(h, all)

	summary := make(map[models.SourceKind][]string)
	sources := make(map[models.SourceKind]bool)
	var confSum float64
	for _, ev := range supporting {
		sources[ev.Source] = true
		summary[ev.Source] = append(summary[ev.Source], ev.ID)
		confSum += ev.Confidence
	}
	independent := len(sources)

	var confidence float64
	if len(supporting) > 0 {
		avg := confSum / float64(len(supporting))
		base := float64(independent) / independentSourceSaturation
		if base > 1 {
			base = 1
		}
		confidence = base * avg
		if len(contradictions) > 0 {
			confidence *= 1 - contradictionPenalty
		}
		confidence *= timelineConsistency(supporting, snap.Plan)
	}

	var verdict models.Verdict
	switch {
	case independent >= v.minSources && len(contradictions) == 0 && confidence >= supportedConfidenceFloor:
		verdict = models.VerdictSupported
	case len(contradictions) > 0 && confidence < contradictedConfidenceCeil:
		verdict = models.VerdictContradicted
	default:
		verdict = models.VerdictInsufficientEvidence
	}

	return models.VerificationResult{
		HypothesisID:       h.ID,
		Verdict:            verdict,
		Confidence:         confidence,
		EvidenceSummary:    summary,
		IndependentSources: independent,
		Contradictions:     contradictions,
		Reasoning:          reasoning(h, verdict, independent, len(supporting), contradictions),
	}
}

// OverallConfidence is the run-level confidence: the maximum over
// SUPPORTED hypotheses, or the maximum over all when none is
// supported.
func OverallConfidence(results []models.VerificationResult) float64 {
	var best, bestSupported float64
	supported := false
	for _, r := range results {
		if r.Confidence > best {
			best = r.Confidence
		}
		if r.Verdict == models.VerdictSupported {
			supported = true
			if r.Confidence > bestSupported {
				bestSupported = r.Confidence
			}
		}
	}
	if supported {
		return bestSupported
	}
	return best
}

// NeedsEnrichment reports whether verification left every hypothesis
// below the confidence threshold.
func NeedsEnrichment(results []models.VerificationResult, threshold float64) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Confidence >= threshold {
			return false
		}
	}
	return true
}

// WeakestHypotheses names the lowest-confidence hypotheses, for the
// enrichment prompt.
func WeakestHypotheses(snap models.Snapshot, results []models.VerificationResult, n int) []models.Hypothesis {
	byID := make(map[string]models.Hypothesis, len(snap.Hypotheses))
	for _, h := range snap.Hypotheses {
		byID[h.ID] = h
	}

	sorted := make([]models.VerificationResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence < sorted[j].Confidence
	})

	var out []models.Hypothesis
	for _, r := range sorted {
		if h, ok := byID[r.HypothesisID]; ok {
			out = append(out, h)
		}
		if len(out) == n {
			break
		}
	}
	return out
}

// collectSupporting matches evidence to a hypothesis by explicit
// reference or by token overlap with its root cause.
func collectSupporting(h models.Hypothesis, all []models.Evidence) []models.Evidence {
	referenced := make(map[string]bool, len(h.SupportingEvidence))
	for _, id := range h.SupportingEvidence {
		referenced[id] = true
	}
	claim := claimTokens(h.RootCause)

	var out []models.Evidence
	for _, ev := range all {
		if referenced[ev.ID] || tokenOverlap(claim, ev.Content) >= 2 {
			out = append(out, ev)
		}
	}
	return out
}

// contradictionMatchers pairs an evidence phrase with the claim
// keywords it refutes.
var contradictionMatchers = []struct {
	evidencePhrases []string
	claimKeywords   []string
}{
	{
		evidencePhrases: []string{"no deployment", "no deploy", "no release"},
		claimKeywords:   []string{"deployment", "deploy", "release", "rollout"},
	},
	{
		evidencePhrases: []string{"service healthy", "all healthy", "no errors", "error rate normal"},
		claimKeywords:   []string{"error", "failure", "failing", "regression", "crash", "outage"},
	},
	{
		evidencePhrases: []string{"metric normal", "metrics normal", "within normal range", "no anomalies", "flat and normal"},
		claimKeywords:   []string{"spike", "surge", "anomaly", "exhaustion", "memory", "traffic", "load"},
	},
}

// collectContradictions applies the rule-based refutation matchers.
func collectContradictions(h models.Hypothesis, all []models.Evidence) []string {
	claim := strings.ToLower(h.RootCause)

	var out []string
	for _, ev := range all {
		content := strings.ToLower(ev.Content)
		for _, m := range contradictionMatchers {
			if !containsAny(content, m.evidencePhrases) || !containsAny(claim, m.claimKeywords) {
				continue
			}
			out = append(out, fmt.Sprintf("evidence %s: %s", ev.ID, ev.Content))
			break
		}
	}
	return out
}

// timelineConsistency degrades confidence when supporting events fall
// outside the incident window. The factor stays within [0.6, 1.0].
func timelineConsistency(supporting []models.Evidence, plan models.Plan) float64 {
	if plan.IncidentTime.IsZero() {
		return 1.0
	}
	window := plan.WindowFor(models.SourceLog)
	start, end := window.Bounds(plan.IncidentTime)

	timed, inWindow := 0, 0
	for _, ev := range supporting {
		if ev.Timestamp == nil {
			continue
		}
		timed++
		if !ev.Timestamp.Before(start) && !ev.Timestamp.After(end) {
			inWindow++
		}
	}
	if timed == 0 {
		return 1.0
	}
	return timelineConsistencyFloor + (1-timelineConsistencyFloor)*float64(inWindow)/float64(timed)
}

func reasoning(h models.Hypothesis, verdict models.Verdict, independent, supporting int, contradictions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d supporting items across %d independent sources", supporting, independent)
	if len(contradictions) > 0 {
		fmt.Fprintf(&b, "; %d contradicting items", len(contradictions))
	}
	fmt.Fprintf(&b, "; verdict %s for %q", verdict, h.RootCause)
	return b.String()
}

// claimTokens extracts the meaningful tokens of a root-cause claim.
func claimTokens(claim string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(claim), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(tok) >= 4 && !stopwords[tok] {
			out[tok] = true
		}
	}
	return out
}

var stopwords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "into": true,
	"during": true, "within": true, "between": true, "causing": true,
	"caused": true, "cause": true, "recent": true, "observed": true,
	"which": true, "the": true, "and": true, "are": true, "is": true,
}

func tokenOverlap(claim map[string]bool, content string) int {
	hits := 0
	lower := strings.ToLower(content)
	for tok := range claim {
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return hits
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
