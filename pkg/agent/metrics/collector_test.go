package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/obs/promapi"
)

var incidentTime = time.Date(2024, 3, 5, 14, 12, 0, 0, time.UTC)

type fakeQuerier struct {
	instant map[string][]promapi.Sample
	ranges  map[string][]promapi.Series
	err     error
}

func (f *fakeQuerier) Instant(ctx context.Context, expr string, ts time.Time) ([]promapi.Sample, error) {
	return f.instant[expr], f.err
}

func (f *fakeQuerier) Range(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]promapi.Series, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ranges[expr], nil
}

func (f *fakeQuerier) Alerts(ctx context.Context) ([]promapi.Alert, error)   { return nil, f.err }
func (f *fakeQuerier) Targets(ctx context.Context) ([]promapi.Target, error) { return nil, f.err }

func snapshot(targets []models.MetricTarget) models.Snapshot {
	return models.Snapshot{
		Plan: models.Plan{
			IncidentTime:     incidentTime,
			AffectedServices: []string{"payments"},
			MetricTargets:    targets,
			SearchWindows: map[models.SourceKind]models.Window{
				models.SourceMetrics: {Before: 30 * time.Minute, After: 30 * time.Minute},
			},
		},
	}
}

func flatSeries(base float64, n int) []promapi.Point {
	points := make([]promapi.Point, n)
	for i := range points {
		points[i] = promapi.Point{Time: incidentTime.Add(time.Duration(i-n/2) * time.Minute), Value: base}
	}
	return points
}

func TestSpikeDetected(t *testing.T) {
	points := flatSeries(10, 20)
	points[12].Value = 500 // spike shortly after incident time

	q := &fakeQuerier{ranges: map[string][]promapi.Series{
		`http_errors_total{job="payments"}`: {{Labels: map[string]string{"job": "payments"}, Points: points}},
	}}

	c := New(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot([]models.MetricTarget{
		{Service: "payments", Metric: "http_errors_total"},
	}))
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)

	ev := res.Evidence[0]
	require.NotNil(t, ev.Metric)
	assert.Equal(t, "http_errors_total", ev.Metric.Metric)
	require.NotEmpty(t, ev.Metric.Anomalies)
	assert.Equal(t, "spike", ev.Metric.Anomalies[0].Kind)
	assert.Greater(t, ev.Confidence, 0.4)
	require.NotNil(t, res.Confidence)
}

func TestFlatlineDetected(t *testing.T) {
	points := flatSeries(50, 20)
	for i := 15; i < 20; i++ {
		points[i].Value = 0
	}

	q := &fakeQuerier{ranges: map[string][]promapi.Series{
		`throughput{job="payments"}`: {{Points: points}},
	}}

	c := New(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot([]models.MetricTarget{
		{Service: "payments", Metric: "throughput"},
	}))
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)

	kinds := make(map[string]bool)
	for _, a := range res.Evidence[0].Metric.Anomalies {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds["flatline"])
}

func TestStepChangeDetected(t *testing.T) {
	var points []promapi.Point
	points = append(points, flatSeries(10, 10)...)
	shifted := flatSeries(40, 10)
	for i := range shifted {
		shifted[i].Time = shifted[i].Time.Add(10 * time.Minute)
	}
	points = append(points, shifted...)

	q := &fakeQuerier{ranges: map[string][]promapi.Series{
		`latency_p99{job="payments"}`: {{Points: points}},
	}}

	c := New(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot([]models.MetricTarget{
		{Service: "payments", Metric: "latency_p99"},
	}))
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)

	kinds := make(map[string]bool)
	for _, a := range res.Evidence[0].Metric.Anomalies {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds["step_change"])
}

func TestQuietSeriesProduceNoEvidence(t *testing.T) {
	q := &fakeQuerier{ranges: map[string][]promapi.Series{
		`up{job="payments"}`: {{Points: flatSeries(1, 20)}},
	}}

	c := New(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot([]models.MetricTarget{
		{Service: "payments", Metric: "up"},
	}))
	require.NoError(t, err)
	assert.Empty(t, res.Evidence)
}

func TestJobDiscoveryFiltersByService(t *testing.T) {
	points := flatSeries(10, 20)
	points[10].Value = 400

	q := &fakeQuerier{
		instant: map[string][]promapi.Sample{
			"up": {
				{Labels: map[string]string{"job": "payments"}, Value: 1},
				{Labels: map[string]string{"job": "billing"}, Value: 1},
			},
		},
		ranges: map[string][]promapi.Series{
			`up{job="payments"}`: {{Points: points}},
		},
	}

	c := New(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot(nil))
	require.NoError(t, err)
	require.NotEmpty(t, res.Evidence)
	for _, ev := range res.Evidence {
		assert.Equal(t, "payments", ev.Metric.Job)
	}
}

func TestBackendFailure(t *testing.T) {
	q := &fakeQuerier{err: errors.New("connection refused")}
	c := New(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.Collect(context.Background(), snapshot([]models.MetricTarget{
		{Service: "payments", Metric: "up"},
	}))
	assert.Error(t, err)
}
