package models

import "time"

// Window is a symmetric-ish search window around the incident time.
type Window struct {
	Before time.Duration `json:"before"`
	After  time.Duration `json:"after"`
}

// Bounds resolves the window to absolute times around ref.
func (w Window) Bounds(ref time.Time) (time.Time, time.Time) {
	return ref.Add(-w.Before), ref.Add(w.After)
}

// MetricTarget is one (service, metric) pair the metrics agent queries.
type MetricTarget struct {
	Service string `json:"service"`
	Metric  string `json:"metric"`
}

// Plan is the planner's output: which agents run, where they look, and
// what they look for. Every agent listed in RequiredAgents has an entry
// in SearchWindows, and IncidentTime is always UTC — the planner
// guarantees both under every failure mode.
type Plan struct {
	IncidentTime     time.Time             `json:"incident_time"`
	AffectedServices []string              `json:"affected_services"`
	Symptoms         []string              `json:"symptoms"`
	SearchWindows    map[SourceKind]Window `json:"search_windows"`
	RequiredAgents   []SourceKind          `json:"required_agents"`
	MetricTargets    []MetricTarget        `json:"metric_targets,omitempty"`
	Priority         string                `json:"priority"` // "high", "medium", "low"
}

// WindowFor returns the search window for a source kind, falling back to
// the metrics window and then a ±30m default so callers never get a
// zero window.
func (p *Plan) WindowFor(kind SourceKind) Window {
	if w, ok := p.SearchWindows[kind]; ok {
		return w
	}
	if w, ok := p.SearchWindows[SourceMetrics]; ok {
		return w
	}
	return Window{Before: 30 * time.Minute, After: 30 * time.Minute}
}

// Requires reports whether the plan asks for the given agent.
func (p *Plan) Requires(kind SourceKind) bool {
	for _, k := range p.RequiredAgents {
		if k == kind {
			return true
		}
	}
	return false
}
