// Package image implements the screenshot evidence agent. It sends
// attached dashboard screenshots to a vision-capable model and turns
// the described anomalies into evidence.
package image

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline/pkg/agent"
	"github.com/faultline-io/faultline/pkg/llm"
	"github.com/faultline-io/faultline/pkg/models"
)

const visionSystem = `You analyze monitoring dashboard screenshots during an
incident investigation. Describe only what is visible. Respond with a JSON
object:
{"anomalies": [string], "time_labels": [string], "confidence": number}

Anomalies are observable signals such as spikes, drops, flatlines, or alert
banners. time_labels are axis or annotation times readable in the image.
confidence is your overall confidence in the reading, 0 to 1.`

// reading mirrors the schema the model is asked to emit.
type reading struct {
	Anomalies  []string `json:"anomalies"`
	TimeLabels []string `json:"time_labels"`
	Confidence float64  `json:"confidence"`
}

// Collector is the image agent.
type Collector struct {
	llm    llm.Client
	logger *slog.Logger
}

// New creates an image collector.
func New(client llm.Client, logger *slog.Logger) *Collector {
	return &Collector{llm: client, logger: logger}
}

// Kind implements agent.Collector.
func (c *Collector) Kind() models.SourceKind { return models.SourceImage }

// Collect implements agent.Collector.
func (c *Collector) Collect(ctx context.Context, snap models.Snapshot) (*agent.Result, error) {
	if len(snap.Request.DashboardImages) == 0 {
		return &agent.Result{}, nil
	}
	if c.llm == nil {
		return nil, fmt.Errorf("vision model not configured")
	}

	prompt := fmt.Sprintf("Incident: %s\nAffected services: %s",
		snap.Request.Query, strings.Join(snap.Plan.AffectedServices, ", "))

	var evidence []models.Evidence
	var failures []string
	for i, img := range snap.Request.DashboardImages {
		ev, err := c.analyzeImage(ctx, prompt, i, img)
		if err != nil {
			failures = append(failures, fmt.Sprintf("image %d: %v", i, err))
			continue
		}
		if ev != nil {
			evidence = append(evidence, *ev)
		}
	}

	if len(evidence) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("image analysis failed: %s", strings.Join(failures, "; "))
	}

	result := &agent.Result{Evidence: evidence}
	for _, ev := range evidence {
		if result.Confidence == nil || ev.Confidence > *result.Confidence {
			v := ev.Confidence
			result.Confidence = &v
		}
	}
	return result, nil
}

func (c *Collector) analyzeImage(ctx context.Context, prompt string, idx int, b64 string) (*models.Evidence, error) {
	text, err := c.llm.CompleteVision(ctx, visionSystem, prompt, []llm.ImageInput{
		{MediaType: "image/png", Base64: b64},
	})
	if err != nil {
		return nil, err
	}

	var r reading
	if err := llm.DecodeJSON(text, &r); err != nil {
		return nil, fmt.Errorf("unparseable vision output: %w", err)
	}
	if len(r.Anomalies) == 0 {
		return nil, nil
	}

	conf := r.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.5
	}
	ref := fmt.Sprintf("attachment-%d", idx)
	return &models.Evidence{
		ID:         uuid.NewString(),
		Source:     models.SourceImage,
		Content:    fmt.Sprintf("screenshot %s: %s", ref, strings.Join(r.Anomalies, "; ")),
		Confidence: conf,
		Image: &models.ImagePayload{
			ImageRef:   ref,
			Anomalies:  r.Anomalies,
			TimeLabels: r.TimeLabels,
		},
	}, nil
}
