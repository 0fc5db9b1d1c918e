package hypothesis

import (
	"fmt"
	"strings"

	"github.com/faultline-io/faultline/pkg/models"
)

// rule produces a hypothesis when its correlation pattern (or evidence
// signal) is present in the run.
type rule struct {
	patterns     []string
	plausibility float64
	rootCause    func(snap models.Snapshot) string
	required     []string
	wouldRefute  []string
}

var ruleLibrary = []rule{
	{
		patterns:     []string{"deployment_followed_by_errors", "deployment_followed_by_metric_anomaly"},
		plausibility: 0.8,
		rootCause: func(snap models.Snapshot) string {
			return fmt.Sprintf("A recent deployment to %s introduced a regression that is producing the observed failures",
				serviceList(snap))
		},
		required:    []string{"deployment annotation or changelog near the incident time", "error onset after the deployment"},
		wouldRefute: []string{"errors beginning before the deployment, or persisting after rollback"},
	},
	{
		patterns:     []string{"capacity_pressure_degrading_performance"},
		plausibility: 0.7,
		rootCause: func(snap models.Snapshot) string {
			return fmt.Sprintf("Resource exhaustion (memory or CPU) on %s is degrading performance and crashing workers",
				serviceList(snap))
		},
		required:    []string{"rising resource usage trend before the incident", "restart or OOM events"},
		wouldRefute: []string{"flat resource usage across the incident window"},
	},
	{
		patterns:     []string{"metric_anomaly_followed_by_errors"},
		plausibility: 0.6,
		rootCause: func(snap models.Snapshot) string {
			return fmt.Sprintf("A traffic or load surge on %s exceeded capacity, driving latency and errors",
				serviceList(snap))
		},
		required:    []string{"request rate spike preceding the error onset"},
		wouldRefute: []string{"error onset with flat request rates"},
	},
	{
		patterns:     []string{"config_change_followed_by_errors"},
		plausibility: 0.65,
		rootCause: func(snap models.Snapshot) string {
			return "A configuration change broke connectivity between services, causing connection failures"
		},
		required:    []string{"configuration change event near the incident time", "connection errors naming the reconfigured endpoint"},
		wouldRefute: []string{"connection failures predating the configuration change"},
	},
	{
		patterns:     []string{"error_cascade"},
		plausibility: 0.55,
		rootCause: func(snap models.Snapshot) string {
			return "A dependency timeout or outage is cascading failures into downstream services"
		},
		required:    []string{"upstream dependency errors preceding downstream ones"},
		wouldRefute: []string{"downstream errors with healthy upstream dependencies"},
	},
}

// applyRules produces hypotheses from correlation patterns present in
// the snapshot. Each rule fires at most once.
func applyRules(snap models.Snapshot) []models.Hypothesis {
	present := make(map[string][]string) // pattern -> evidence ids
	for _, corr := range snap.Correlations {
		present[corr.Pattern] = append(present[corr.Pattern], corr.EvidenceIDs...)
	}

	var out []models.Hypothesis
	for i, r := range ruleLibrary {
		var support []string
		for _, p := range r.patterns {
			support = append(support, present[p]...)
		}
		if len(support) == 0 {
			continue
		}
		out = append(out, models.Hypothesis{
			ID:                 fmt.Sprintf("hyp-rule-%d", i+1),
			RootCause:          r.rootCause(snap),
			Plausibility:       r.plausibility,
			SupportingEvidence: dedupStrings(support),
			RequiredEvidence:   r.required,
			WouldRefute:        r.wouldRefute,
		})
	}
	return out
}

func serviceList(snap models.Snapshot) string {
	if len(snap.Plan.AffectedServices) == 0 {
		return "the affected services"
	}
	return strings.Join(snap.Plan.AffectedServices, ", ")
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
