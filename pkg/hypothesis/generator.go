// Package hypothesis generates candidate root causes from the
// correlated timeline, preferring a reasoning model and falling back
// to a rule library keyed on correlation patterns.
package hypothesis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/faultline-io/faultline/pkg/llm"
	"github.com/faultline-io/faultline/pkg/models"
)

// Hypotheses whose root causes are this similar are considered
// duplicates.
const dedupSimilarity = 0.8

// minPlausible is the plausibility floor used by the enrichment
// trigger.
const minPlausible = 0.5

// Generator produces hypotheses for a run.
type Generator struct {
	llm           llm.Client
	maxHypotheses int
	logger        *slog.Logger
}

// New creates a generator. client may be nil to force the rule path.
func New(client llm.Client, maxHypotheses int, logger *slog.Logger) *Generator {
	if maxHypotheses <= 0 {
		maxHypotheses = 5
	}
	return &Generator{llm: client, maxHypotheses: maxHypotheses, logger: logger}
}

const generateSystem = `You are an incident root-cause analyst. Given a
correlated incident timeline, propose distinct root-cause hypotheses.
Respond with a JSON array of objects:
[{"root_cause": string, "plausibility": number, "supporting_evidence_ids": [string],
  "required_evidence": [string], "would_refute": [string]}]

plausibility is 0 to 1. supporting_evidence_ids must only reference the
evidence ids shown. Propose between 2 and %d hypotheses.`

// llmHypothesis mirrors the schema the model is asked to emit.
type llmHypothesis struct {
	RootCause             string   `json:"root_cause"`
	Plausibility          float64  `json:"plausibility"`
	SupportingEvidenceIDs []string `json:"supporting_evidence_ids"`
	RequiredEvidence      []string `json:"required_evidence"`
	WouldRefute           []string `json:"would_refute"`
}

// Generate produces mutually distinct hypotheses, at most the
// configured maximum, ranked by plausibility.
func (g *Generator) Generate(ctx context.Context, snap models.Snapshot) []models.Hypothesis {
	var hyps []models.Hypothesis

	if g.llm != nil {
		var err error
		hyps, err = g.fromModel(ctx, snap)
		if err != nil {
			g.logger.Warn("Hypothesis model call failed, using rule library",
				slog.String("error", err.Error()))
		}
	}
	if len(hyps) == 0 {
		hyps = applyRules(snap)
	}

	hyps = dedup(hyps)
	sort.SliceStable(hyps, func(i, j int) bool {
		return hyps[i].Plausibility > hyps[j].Plausibility
	})
	if len(hyps) > g.maxHypotheses {
		hyps = hyps[:g.maxHypotheses]
	}
	return hyps
}

// NeedsEnrichment reports whether the generated set is too weak and
// the run should gather more context before continuing.
func NeedsEnrichment(hyps []models.Hypothesis) bool {
	plausible := 0
	for _, h := range hyps {
		if h.Plausibility >= minPlausible {
			plausible++
		}
	}
	return plausible < 2
}

func (g *Generator) fromModel(ctx context.Context, snap models.Snapshot) ([]models.Hypothesis, error) {
	prompt := describeRun(snap)
	text, err := g.llm.Complete(ctx, fmt.Sprintf(generateSystem, g.maxHypotheses), prompt)
	if err != nil {
		return nil, err
	}

	var parsed []llmHypothesis
	if err := llm.DecodeJSON(text, &parsed); err != nil {
		return nil, fmt.Errorf("malformed hypothesis output: %w", err)
	}

	known := make(map[string]bool)
	for _, ev := range snap.AllEvidence() {
		known[ev.ID] = true
	}

	var out []models.Hypothesis
	for i, h := range parsed {
		if strings.TrimSpace(h.RootCause) == "" {
			continue
		}
		if h.Plausibility < 0 {
			h.Plausibility = 0
		}
		if h.Plausibility > 1 {
			h.Plausibility = 1
		}
		var support []string
		for _, id := range h.SupportingEvidenceIDs {
			if known[id] {
				support = append(support, id)
			}
		}
		out = append(out, models.Hypothesis{
			ID:                 fmt.Sprintf("hyp-%d", i+1),
			RootCause:          h.RootCause,
			Plausibility:       h.Plausibility,
			SupportingEvidence: support,
			RequiredEvidence:   h.RequiredEvidence,
			WouldRefute:        h.WouldRefute,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model produced no usable hypotheses")
	}
	return out, nil
}

// describeRun renders the timeline, correlations, and strongest
// evidence for the model prompt.
func describeRun(snap models.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Incident: %s\n", snap.Request.Query)
	fmt.Fprintf(&b, "Affected services: %s\n\n", strings.Join(snap.Plan.AffectedServices, ", "))

	b.WriteString("Timeline:\n")
	for _, e := range snap.Timeline {
		fmt.Fprintf(&b, "- [%s] (%s/%s, evidence %s) %s\n",
			e.Time.Format("15:04:05"), e.Source, e.Class, e.EvidenceID, e.Event)
	}

	if len(snap.Correlations) > 0 {
		b.WriteString("\nCorrelations:\n")
		for _, c := range snap.Correlations {
			fmt.Fprintf(&b, "- %s (%.0fs apart, %s): %s -> %s\n",
				c.Pattern, c.DeltaSeconds, c.Strength, c.FirstEvent, c.SecondEvent)
		}
	}

	if len(snap.Gaps) > 0 {
		b.WriteString("\nEvidence gaps:\n")
		for _, gap := range snap.Gaps {
			fmt.Fprintf(&b, "- %s\n", gap.Description)
		}
	}
	return b.String()
}

// dedup removes hypotheses whose root causes are near-duplicates,
// keeping the more plausible of each pair.
func dedup(hyps []models.Hypothesis) []models.Hypothesis {
	sorted := make([]models.Hypothesis, len(hyps))
	copy(sorted, hyps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Plausibility > sorted[j].Plausibility
	})

	var out []models.Hypothesis
	for _, h := range sorted {
		distinct := true
		for _, kept := range out {
			if levenshtein.Similarity(normalizeCause(h.RootCause), normalizeCause(kept.RootCause), nil) >= dedupSimilarity {
				distinct = false
				break
			}
		}
		if distinct {
			out = append(out, h)
		}
	}
	return out
}

func normalizeCause(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
