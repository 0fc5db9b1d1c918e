// Package timeline merges run evidence into a time-ordered event
// sequence and derives cross-source correlations and coverage gaps
// from it.
package timeline

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/faultline-io/faultline/pkg/models"
)

// knownPatterns maps ordered class pairs to named causal patterns.
var knownPatterns = map[[2]models.EventClass]string{
	{models.ClassDeployment, models.ClassError}:         "deployment_followed_by_errors",
	{models.ClassDeployment, models.ClassMetricAnomaly}: "deployment_followed_by_metric_anomaly",
	{models.ClassMetricAnomaly, models.ClassError}:      "metric_anomaly_followed_by_errors",
	{models.ClassCapacity, models.ClassPerformance}:     "capacity_pressure_degrading_performance",
	{models.ClassError, models.ClassError}:              "error_cascade",
	{models.ClassConfiguration, models.ClassError}:      "config_change_followed_by_errors",
}

// Correlator builds timelines. Window and gap threshold come from
// pipeline configuration.
type Correlator struct {
	window       time.Duration
	gapThreshold time.Duration
	logger       *slog.Logger
}

// New creates a correlator.
func New(window, gapThreshold time.Duration, logger *slog.Logger) *Correlator {
	if window <= 0 {
		window = 2 * time.Minute
	}
	if gapThreshold <= 0 {
		gapThreshold = 5 * time.Minute
	}
	return &Correlator{window: window, gapThreshold: gapThreshold, logger: logger}
}

// Build projects the snapshot's evidence onto a sorted timeline and
// computes correlations and gaps.
func (c *Correlator) Build(snap models.Snapshot) ([]models.TimelineEvent, []models.Correlation, []models.Gap) {
	events := c.project(snap)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})

	correlations := c.correlate(events)
	gaps := c.findGaps(snap, events)
	return events, correlations, gaps
}

// project converts evidence into timeline events. Items without a
// usable timestamp borrow the time of the nearest timestamped item of
// the same source, and are dropped when no anchor exists.
func (c *Correlator) project(snap models.Snapshot) []models.TimelineEvent {
	all := snap.AllEvidence()

	anchors := make(map[models.SourceKind]time.Time)
	for _, ev := range all {
		if ev.Timestamp != nil {
			if _, ok := anchors[ev.Source]; !ok {
				anchors[ev.Source] = *ev.Timestamp
			}
		}
	}

	var events []models.TimelineEvent
	dropped := 0
	for _, ev := range all {
		ts := ev.Timestamp
		if ts == nil {
			if anchor, ok := anchors[ev.Source]; ok {
				ts = &anchor
			} else if !snap.Plan.IncidentTime.IsZero() {
				t := snap.Plan.IncidentTime
				ts = &t
			} else {
				dropped++
				continue
			}
		}
		events = append(events, models.TimelineEvent{
			Time:       ts.UTC(),
			Event:      ev.Content,
			Source:     ev.Source,
			Confidence: ev.Confidence,
			EvidenceID: ev.ID,
			Class:      Classify(ev),
		})
	}
	if dropped > 0 {
		c.logger.Debug("Dropped evidence without usable timestamps",
			slog.Int("count", dropped))
	}
	return events
}

// correlate slides the correlation window over the sorted events and
// keeps co-occurrences that span distinct sources and match a known
// pattern.
func (c *Correlator) correlate(events []models.TimelineEvent) []models.Correlation {
	var out []models.Correlation
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			delta := events[j].Time.Sub(events[i].Time)
			if delta > c.window {
				break
			}
			if events[i].Source == events[j].Source {
				continue
			}
			pattern, ok := knownPatterns[[2]models.EventClass{events[i].Class, events[j].Class}]
			if !ok {
				continue
			}
			out = append(out, models.Correlation{
				EvidenceIDs:  []string{events[i].EvidenceID, events[j].EvidenceID},
				FirstEvent:   events[i].Event,
				SecondEvent:  events[j].Event,
				FirstTime:    events[i].Time,
				SecondTime:   events[j].Time,
				DeltaSeconds: delta.Seconds(),
				Pattern:      pattern,
				Strength:     strengthFor(delta),
			})
		}
	}
	return out
}

// findGaps reports silent intervals inside the plan window and sources
// the plan expected that produced nothing at all.
func (c *Correlator) findGaps(snap models.Snapshot, events []models.TimelineEvent) []models.Gap {
	var gaps []models.Gap

	window := snap.Plan.WindowFor(models.SourceLog)
	start, end := window.Bounds(snap.Plan.IncidentTime)
	if !snap.Plan.IncidentTime.IsZero() {
		cursor := start
		for _, e := range events {
			if e.Time.Before(start) || e.Time.After(end) {
				continue
			}
			if e.Time.Sub(cursor) >= c.gapThreshold {
				gaps = append(gaps, silentGap(cursor, e.Time))
			}
			if e.Time.After(cursor) {
				cursor = e.Time
			}
		}
		if end.Sub(cursor) >= c.gapThreshold {
			gaps = append(gaps, silentGap(cursor, end))
		}
	}

	seen := make(map[models.SourceKind]bool)
	for _, e := range events {
		seen[e.Source] = true
	}
	for _, kind := range snap.Plan.RequiredAgents {
		if seen[kind] {
			continue
		}
		gaps = append(gaps, models.Gap{
			Start:         start,
			End:           end,
			MissingSource: kind,
			Description:   fmt.Sprintf("no %s evidence in the incident window", kind),
		})
	}
	return gaps
}

func silentGap(start, end time.Time) models.Gap {
	return models.Gap{
		Start:       start,
		End:         end,
		Description: fmt.Sprintf("no evidence from any source between %s and %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339)),
	}
}

func strengthFor(delta time.Duration) string {
	switch {
	case delta <= 30*time.Second:
		return "strong"
	case delta <= time.Minute:
		return "medium"
	default:
		return "weak"
	}
}

// Classify assigns the coarse event class used by pattern matching.
func Classify(ev models.Evidence) models.EventClass {
	lower := strings.ToLower(ev.Content)

	switch {
	case containsAny(lower, "deploy", "release", "rollout", "rolled out"):
		return models.ClassDeployment
	case containsAny(lower, "config change", "configuration", "feature flag", "env var"):
		return models.ClassConfiguration
	}

	if ev.Source == models.SourceMetrics {
		return models.ClassMetricAnomaly
	}

	if ev.Log != nil {
		switch strings.ToUpper(ev.Log.Level) {
		case "ERROR", "FATAL", "CRITICAL":
			return models.ClassError
		}
	}

	switch {
	case containsAny(lower, "oom", "out of memory", "memory", "disk full", "capacity", "quota"):
		return models.ClassCapacity
	case containsAny(lower, "error", "exception", "panic", "failed", "refused", "5xx", "500", "503"):
		return models.ClassError
	case containsAny(lower, "latency", "slow", "timeout", "degraded", "p99"):
		return models.ClassPerformance
	default:
		return models.ClassOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
