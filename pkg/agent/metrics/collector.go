// Package metrics implements the metrics evidence agent. It range-
// queries a Prometheus-compatible backend around the incident time and
// applies rule-based anomaly detection to the returned series.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline/pkg/agent"
	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/obs/promapi"
)

const queryStep = time.Minute

// genericExprs are queried per job when the plan names no specific
// metric for a target.
var genericExprs = []struct {
	metric string
	expr   string
}{
	{"up", `up{job=%q}`},
	{"request_rate", `rate(http_requests_total{job=%q}[5m])`},
	{"error_rate", `rate(http_requests_total{job=%q,code=~"5.."}[5m])`},
	{"memory_bytes", `process_resident_memory_bytes{job=%q}`},
}

// Collector is the metrics agent.
type Collector struct {
	querier promapi.Querier
	logger  *slog.Logger
}

// New creates a metrics collector.
func New(querier promapi.Querier, logger *slog.Logger) *Collector {
	return &Collector{querier: querier, logger: logger}
}

// Kind implements agent.Collector.
func (c *Collector) Kind() models.SourceKind { return models.SourceMetrics }

// Collect implements agent.Collector.
func (c *Collector) Collect(ctx context.Context, snap models.Snapshot) (*agent.Result, error) {
	if c.querier == nil {
		return nil, fmt.Errorf("metrics backend not configured")
	}

	window := snap.Plan.WindowFor(models.SourceMetrics)
	start, end := window.Bounds(snap.Plan.IncidentTime)

	targets, err := c.resolveTargets(ctx, snap)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &agent.Result{}, nil
	}

	var evidence []models.Evidence
	var queryErrs []string
	for _, t := range targets {
		for _, q := range queriesFor(t) {
			series, err := c.querier.Range(ctx, q.expr, start, end, queryStep)
			if err != nil {
				if ctx.Err() != nil {
					return &agent.Result{Evidence: evidence}, ctx.Err()
				}
				queryErrs = append(queryErrs, err.Error())
				continue
			}
			evidence = append(evidence, c.analyze(t, q, series, snap.Plan, window)...)
		}
	}

	// All queries failing is a backend failure, partial failures are
	// tolerated.
	if len(evidence) == 0 && len(queryErrs) > 0 {
		return nil, fmt.Errorf("all metric queries failed: %s", strings.Join(queryErrs, "; "))
	}

	result := &agent.Result{Evidence: evidence}
	for _, ev := range evidence {
		if result.Confidence == nil || ev.Confidence > *result.Confidence {
			conf := ev.Confidence
			result.Confidence = &conf
		}
	}
	return result, nil
}

// resolveTargets returns the plan's metric targets, discovering active
// jobs via the `up` indicator when the plan names none.
func (c *Collector) resolveTargets(ctx context.Context, snap models.Snapshot) ([]models.MetricTarget, error) {
	if len(snap.Plan.MetricTargets) > 0 {
		return snap.Plan.MetricTargets, nil
	}

	jobs, err := promapi.ActiveJobs(ctx, c.querier, snap.Plan.IncidentTime)
	if err != nil {
		return nil, fmt.Errorf("target discovery failed: %w", err)
	}

	var targets []models.MetricTarget
	for _, job := range jobs {
		if len(snap.Plan.AffectedServices) > 0 && !matchesAnyService(job, snap.Plan.AffectedServices) {
			continue
		}
		targets = append(targets, models.MetricTarget{Service: job})
	}
	return targets, nil
}

type boundQuery struct {
	metric string
	expr   string
}

func queriesFor(t models.MetricTarget) []boundQuery {
	if t.Metric != "" {
		return []boundQuery{{
			metric: t.Metric,
			expr:   fmt.Sprintf(`%s{job=%q}`, t.Metric, t.Service),
		}}
	}
	out := make([]boundQuery, 0, len(genericExprs))
	for _, g := range genericExprs {
		out = append(out, boundQuery{metric: g.metric, expr: fmt.Sprintf(g.expr, t.Service)})
	}
	return out
}

// analyze turns anomalous series into evidence. Quiet series produce
// nothing.
func (c *Collector) analyze(t models.MetricTarget, q boundQuery, series []promapi.Series, plan models.Plan, window models.Window) []models.Evidence {
	var evidence []models.Evidence
	for _, s := range series {
		stats := computeStats(s.Points)
		anomalies := detectAnomalies(s.Points, stats)
		if len(anomalies) == 0 {
			continue
		}

		conf := anomalyConfidence(anomalies, plan.IncidentTime, window.Before+window.After)
		ts := anomalies[0].Time
		evidence = append(evidence, models.Evidence{
			ID:         uuid.NewString(),
			Source:     models.SourceMetrics,
			Content:    describeAnomalies(q.metric, t.Service, anomalies),
			Timestamp:  &ts,
			Confidence: conf,
			Metric: &models.MetricPayload{
				Metric:    q.metric,
				Job:       t.Service,
				Query:     q.expr,
				Stats:     stats,
				Anomalies: anomalies,
			},
		})
	}
	return evidence
}

func describeAnomalies(metric, job string, anomalies []models.MetricAnomaly) string {
	parts := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		parts = append(parts, fmt.Sprintf("%s at %s (%s)", a.Kind,
			a.Time.UTC().Format(time.RFC3339), a.Detail))
	}
	return fmt.Sprintf("%s for %s: %s", metric, job, strings.Join(parts, "; "))
}

func matchesAnyService(job string, services []string) bool {
	lower := strings.ToLower(job)
	for _, svc := range services {
		s := strings.ToLower(svc)
		if strings.Contains(lower, s) || strings.Contains(s, lower) {
			return true
		}
	}
	return false
}
