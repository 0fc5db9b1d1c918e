// Package decision implements the final gate of a run: answer with a
// root cause, ask for more data, or refuse.
package decision

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/verify"
)

const maxAlternatives = 2

// Gate applies the decision rules. Threshold is the run-level
// confidence bar for answering.
type Gate struct {
	threshold float64
	logger    *slog.Logger
}

// New creates a gate. A zero threshold is honored as-is: every run
// with a supported hypothesis answers. Defaulting happens in the
// configuration layer, not here.
func New(threshold float64, logger *slog.Logger) *Gate {
	return &Gate{threshold: threshold, logger: logger}
}

// Decide produces the final response for a verified run.
func (g *Gate) Decide(snap models.Snapshot, results []models.VerificationResult) *models.AnalysisResponse {
	overall := verify.OverallConfidence(results)

	resp := &models.AnalysisResponse{
		AnalysisID: snap.AnalysisID,
		Confidence: overall,
		Timeline:   snap.Timeline,
		Evidence:   &snap.Evidence,
	}

	winner, winnerResult := bestSupported(snap, results)

	switch {
	case overall >= g.threshold && winner != nil:
		resp.Status = models.StatusAnswer
		resp.RootCause = winner.RootCause
		resp.RecommendedActions = recommendActions(snap, *winner)
		resp.AlternativeHypotheses = alternatives(snap, results, winner.ID)

	case overall >= 0.5 && overall < g.threshold && len(snap.Gaps) > 0:
		resp.Status = models.StatusRequestMoreData
		resp.MissingEvidence = missingEvidence(snap, results)

	default:
		resp.Status = models.StatusRefuse
		resp.RootCause = partialExplanation(snap, results)
		resp.MissingEvidence = missingEvidence(snap, results)
		resp.Errors = append(resp.Errors, refusalReasons(overall, g.threshold, winnerResult, snap)...)
	}

	g.logger.Info("Decision made",
		slog.String("analysis_id", snap.AnalysisID),
		slog.String("status", resp.Status),
		slog.Float64("confidence", overall))
	return resp
}

// bestSupported returns the highest-confidence SUPPORTED hypothesis.
func bestSupported(snap models.Snapshot, results []models.VerificationResult) (*models.Hypothesis, *models.VerificationResult) {
	byID := make(map[string]models.Hypothesis, len(snap.Hypotheses))
	for _, h := range snap.Hypotheses {
		byID[h.ID] = h
	}

	var best *models.VerificationResult
	for i := range results {
		r := &results[i]
		if r.Verdict != models.VerdictSupported {
			continue
		}
		if best == nil || r.Confidence > best.Confidence {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	h, ok := byID[best.HypothesisID]
	if !ok {
		return nil, nil
	}
	return &h, best
}

// alternatives lists the strongest non-winning hypotheses with the
// reason they lost.
func alternatives(snap models.Snapshot, results []models.VerificationResult, winnerID string) []models.Alternative {
	byID := make(map[string]models.VerificationResult, len(results))
	for _, r := range results {
		byID[r.HypothesisID] = r
	}

	ranked := make([]models.Hypothesis, 0, len(snap.Hypotheses))
	for _, h := range snap.Hypotheses {
		if h.ID != winnerID {
			ranked = append(ranked, h)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return byID[ranked[i].ID].Confidence > byID[ranked[j].ID].Confidence
	})

	var out []models.Alternative
	for _, h := range ranked {
		if len(out) == maxAlternatives {
			break
		}
		r := byID[h.ID]
		why := fmt.Sprintf("confidence %.2f", r.Confidence)
		switch r.Verdict {
		case models.VerdictContradicted:
			why = "contradicted by evidence, " + why
		case models.VerdictInsufficientEvidence:
			why = fmt.Sprintf("only %d independent sources, %s", r.IndependentSources, why)
		}
		out = append(out, models.Alternative{Hypothesis: h.RootCause, WhyLessLikely: why})
	}
	return out
}

// recommendActions combines matched runbook sections with the action
// rule library.
func recommendActions(snap models.Snapshot, winner models.Hypothesis) []string {
	var actions []string
	seen := make(map[string]bool)
	add := func(a string) {
		if a != "" && !seen[a] {
			seen[a] = true
			actions = append(actions, a)
		}
	}

	for _, ev := range snap.Evidence.RAG {
		if ev.Document == nil || ev.Document.Corpus != "runbooks" {
			continue
		}
		title := ev.Metadata["title"]
		if title == "" {
			title = ev.Document.DocID
		}
		add(fmt.Sprintf("Follow runbook %q", title))
	}

	cause := strings.ToLower(winner.RootCause)
	for _, rule := range actionRules {
		if containsAny(cause, rule.keywords) {
			for _, a := range rule.actions {
				add(a)
			}
		}
	}
	if len(actions) == 0 {
		add("Escalate to the owning team with the attached timeline")
	}
	return actions
}

var actionRules = []struct {
	keywords []string
	actions  []string
}{
	{
		keywords: []string{"deployment", "deploy", "release", "rollout", "regression"},
		actions: []string{
			"Roll back the most recent deployment to the affected services",
			"Compare error rates before and after the deploy to confirm the rollback took effect",
		},
	},
	{
		keywords: []string{"memory", "exhaustion", "oom", "leak", "capacity"},
		actions: []string{
			"Increase memory limits or replica count as a stopgap",
			"Capture a heap profile from an affected instance before restarting it",
		},
	},
	{
		keywords: []string{"traffic", "surge", "load", "spike"},
		actions: []string{
			"Enable rate limiting or shed non-critical traffic",
			"Scale out the saturated tier",
		},
	},
	{
		keywords: []string{"configuration", "config", "flag"},
		actions: []string{
			"Revert the most recent configuration change",
			"Audit connectivity from the reconfigured service to its dependencies",
		},
	},
	{
		keywords: []string{"dependency", "upstream", "cascad", "timeout"},
		actions: []string{
			"Check the upstream dependency's status page and error budget",
			"Apply circuit breaking to stop the cascade while the dependency recovers",
		},
	},
}

// missingEvidence ranks what would most improve confidence: silent
// expected sources first, then the weakest hypotheses' required
// evidence.
func missingEvidence(snap models.Snapshot, results []models.VerificationResult) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	if len(snap.Hypotheses) == 0 {
		add("hypotheses")
	}
	for _, gap := range snap.Gaps {
		if gap.MissingSource != "" {
			add(fmt.Sprintf("%s evidence for the incident window", gap.MissingSource))
		} else {
			add(gap.Description)
		}
	}
	for _, h := range verify.WeakestHypotheses(snap, results, 2) {
		for _, req := range h.RequiredEvidence {
			add(req)
		}
	}
	return out
}

// partialExplanation gives the best available story when refusing.
func partialExplanation(snap models.Snapshot, results []models.VerificationResult) string {
	if len(results) == 0 || len(snap.Hypotheses) == 0 {
		return ""
	}
	byID := make(map[string]models.Hypothesis, len(snap.Hypotheses))
	for _, h := range snap.Hypotheses {
		byID[h.ID] = h
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	h, ok := byID[best.HypothesisID]
	if !ok {
		return ""
	}
	return fmt.Sprintf("Best partial explanation (%s, confidence %.2f): %s",
		best.Verdict, best.Confidence, h.RootCause)
}

func refusalReasons(overall, threshold float64, winner *models.VerificationResult, snap models.Snapshot) []string {
	var reasons []string
	if overall < threshold {
		reasons = append(reasons,
			fmt.Sprintf("overall confidence %.2f below the %.2f threshold", overall, threshold))
	}
	if winner == nil {
		reasons = append(reasons, "no hypothesis reached a SUPPORTED verdict")
	}
	if len(snap.Hypotheses) == 0 {
		reasons = append(reasons, "no hypotheses could be generated from the available evidence")
	}
	return reasons
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
