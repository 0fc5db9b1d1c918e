package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/obs/promapi"
)

const (
	zScoreThreshold = 3.0
	stepRatio       = 2.0
	flatlineRun     = 3
)

// computeStats summarizes a series.
func computeStats(points []promapi.Point) models.MetricStats {
	if len(points) == 0 {
		return models.MetricStats{}
	}
	stats := models.MetricStats{Min: points[0].Value, Max: points[0].Value}
	var sum float64
	for _, p := range points {
		if p.Value < stats.Min {
			stats.Min = p.Value
		}
		if p.Value > stats.Max {
			stats.Max = p.Value
		}
		sum += p.Value
	}
	stats.Mean = sum / float64(len(points))

	var sq float64
	for _, p := range points {
		d := p.Value - stats.Mean
		sq += d * d
	}
	stats.Stddev = math.Sqrt(sq / float64(len(points)))
	return stats
}

// detectAnomalies runs the rule-based detectors over one series.
func detectAnomalies(points []promapi.Point, stats models.MetricStats) []models.MetricAnomaly {
	var anomalies []models.MetricAnomaly
	anomalies = append(anomalies, zScoreAnomalies(points, stats)...)
	if a := flatlineAnomaly(points, stats); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := stepChangeAnomaly(points); a != nil {
		anomalies = append(anomalies, *a)
	}
	return anomalies
}

func zScoreAnomalies(points []promapi.Point, stats models.MetricStats) []models.MetricAnomaly {
	if stats.Stddev == 0 {
		return nil
	}
	var out []models.MetricAnomaly
	for _, p := range points {
		z := (p.Value - stats.Mean) / stats.Stddev
		if math.Abs(z) < zScoreThreshold {
			continue
		}
		out = append(out, models.MetricAnomaly{
			Kind:   "spike",
			Time:   p.Time,
			Value:  p.Value,
			ZScore: z,
			Detail: fmt.Sprintf("value %.3g deviates %.1f sigma from mean %.3g", p.Value, z, stats.Mean),
		})
	}
	return out
}

// flatlineAnomaly fires when a series that carried signal drops to a
// sustained zero.
func flatlineAnomaly(points []promapi.Point, stats models.MetricStats) *models.MetricAnomaly {
	if len(points) < flatlineRun+1 || stats.Mean == 0 {
		return nil
	}
	run := 0
	for i := len(points) - 1; i >= 0 && points[i].Value == 0; i-- {
		run++
	}
	if run < flatlineRun || run == len(points) {
		return nil
	}
	start := points[len(points)-run]
	return &models.MetricAnomaly{
		Kind:   "flatline",
		Time:   start.Time,
		Value:  0,
		Detail: fmt.Sprintf("series flatlined to zero for the last %d samples", run),
	}
}

// stepChangeAnomaly compares the mean level of the first and second
// halves of the window.
func stepChangeAnomaly(points []promapi.Point) *models.MetricAnomaly {
	if len(points) < 6 {
		return nil
	}
	mid := len(points) / 2
	first := computeStats(points[:mid]).Mean
	second := computeStats(points[mid:]).Mean
	if first == 0 && second == 0 {
		return nil
	}

	var ratio float64
	switch {
	case first == 0:
		ratio = math.Inf(1)
	case second == 0:
		ratio = 0
	default:
		ratio = second / first
	}
	if ratio < stepRatio && ratio > 1/stepRatio {
		return nil
	}
	return &models.MetricAnomaly{
		Kind:   "step_change",
		Time:   points[mid].Time,
		Value:  second,
		Detail: fmt.Sprintf("level shifted from %.3g to %.3g across the window", first, second),
	}
}

// anomalyConfidence scales with anomaly strength and proximity to the
// incident time.
func anomalyConfidence(anomalies []models.MetricAnomaly, incidentTime time.Time, window time.Duration) float64 {
	if len(anomalies) == 0 {
		return 0
	}
	conf := 0.4 + 0.1*float64(len(anomalies))
	for _, a := range anomalies {
		if math.Abs(a.ZScore) >= 2*zScoreThreshold {
			conf += 0.1
			break
		}
	}
	if !incidentTime.IsZero() && window > 0 {
		best := math.Inf(1)
		for _, a := range anomalies {
			d := math.Abs(float64(a.Time.Sub(incidentTime)))
			if d < best {
				best = d
			}
		}
		proximity := 1 - best/float64(window)
		if proximity > 0 {
			conf += 0.15 * proximity
		}
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
