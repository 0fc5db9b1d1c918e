// Package promapi is the Prometheus-compatible metrics backend client.
// It wraps the upstream v1 HTTP API behind a small typed Querier so the
// metrics agent and the tool loop can be tested against fakes.
package promapi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Sample is one instant-query result.
type Sample struct {
	Labels map[string]string `json:"labels"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
}

// Point is one value in a range-query series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Series is one time series from a range query.
type Series struct {
	Labels map[string]string `json:"labels"`
	Points []Point           `json:"points"`
}

// Alert is one firing or pending alert.
type Alert struct {
	Name   string            `json:"name"`
	State  string            `json:"state"`
	Labels map[string]string `json:"labels"`
	Since  time.Time         `json:"since"`
}

// Target is one scrape target with its health.
type Target struct {
	Job    string `json:"job"`
	URL    string `json:"url"`
	Health string `json:"health"`
}

// Querier is the metrics backend interface consumed by the pipeline.
// Implementations must be safe for concurrent use.
type Querier interface {
	Instant(ctx context.Context, expr string, ts time.Time) ([]Sample, error)
	Range(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]Series, error)
	Alerts(ctx context.Context) ([]Alert, error)
	Targets(ctx context.Context) ([]Target, error)
}

// Client implements Querier against a Prometheus-compatible HTTP API.
type Client struct {
	api v1.API
}

// New creates a client for the given base URL.
func New(baseURL string) (*Client, error) {
	c, err := api.NewClient(api.Config{Address: baseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}
	return &Client{api: v1.NewAPI(c)}, nil
}

// Instant implements Querier.Instant.
func (c *Client) Instant(ctx context.Context, expr string, ts time.Time) ([]Sample, error) {
	val, _, err := c.api.Query(ctx, expr, ts)
	if err != nil {
		return nil, fmt.Errorf("instant query %q failed: %w", expr, err)
	}

	vec, ok := val.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("instant query %q: unexpected result type %s", expr, val.Type())
	}
	samples := make([]Sample, 0, len(vec))
	for _, s := range vec {
		samples = append(samples, Sample{
			Labels: labelMap(s.Metric),
			Time:   s.Timestamp.Time(),
			Value:  float64(s.Value),
		})
	}
	return samples, nil
}

// Range implements Querier.Range.
func (c *Client) Range(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]Series, error) {
	val, _, err := c.api.QueryRange(ctx, expr, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("range query %q failed: %w", expr, err)
	}

	mat, ok := val.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("range query %q: unexpected result type %s", expr, val.Type())
	}
	series := make([]Series, 0, len(mat))
	for _, stream := range mat {
		s := Series{Labels: labelMap(stream.Metric), Points: make([]Point, 0, len(stream.Values))}
		for _, v := range stream.Values {
			s.Points = append(s.Points, Point{Time: v.Timestamp.Time(), Value: float64(v.Value)})
		}
		series = append(series, s)
	}
	return series, nil
}

// Alerts implements Querier.Alerts.
func (c *Client) Alerts(ctx context.Context) ([]Alert, error) {
	res, err := c.api.Alerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("alerts query failed: %w", err)
	}
	alerts := make([]Alert, 0, len(res.Alerts))
	for _, a := range res.Alerts {
		alerts = append(alerts, Alert{
			Name:   string(a.Labels[model.AlertNameLabel]),
			State:  string(a.State),
			Labels: labelMap(model.Metric(a.Labels)),
			Since:  a.ActiveAt,
		})
	}
	return alerts, nil
}

// Targets implements Querier.Targets.
func (c *Client) Targets(ctx context.Context) ([]Target, error) {
	res, err := c.api.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("targets query failed: %w", err)
	}
	targets := make([]Target, 0, len(res.Active))
	for _, t := range res.Active {
		targets = append(targets, Target{
			Job:    string(t.Labels[model.JobLabel]),
			URL:    t.ScrapeURL,
			Health: string(t.Health),
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Job < targets[j].Job })
	return targets, nil
}

// ActiveJobs enumerates distinct jobs reported healthy by the `up`
// indicator. Used by the metrics agent when the plan names no jobs.
func ActiveJobs(ctx context.Context, q Querier, ts time.Time) ([]string, error) {
	samples, err := q.Instant(ctx, "up", ts)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var jobs []string
	for _, s := range samples {
		job := s.Labels["job"]
		if job == "" || seen[job] {
			continue
		}
		seen[job] = true
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)
	return jobs, nil
}

func labelMap(m model.Metric) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = string(v)
	}
	return out
}
