// Package dashboard implements the dashboard evidence agent. It
// searches the dashboard backend for boards matching the affected
// services and collects annotations inside the incident window.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline/pkg/agent"
	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/obs/grafana"
)

const maxDashboards = 5

// Collector is the dashboard agent.
type Collector struct {
	svc    grafana.Service
	logger *slog.Logger
}

// New creates a dashboard collector.
func New(svc grafana.Service, logger *slog.Logger) *Collector {
	return &Collector{svc: svc, logger: logger}
}

// Kind implements agent.Collector.
func (c *Collector) Kind() models.SourceKind { return models.SourceDashboard }

// Collect implements agent.Collector.
func (c *Collector) Collect(ctx context.Context, snap models.Snapshot) (*agent.Result, error) {
	if c.svc == nil {
		return nil, fmt.Errorf("dashboard backend not configured")
	}

	window := snap.Plan.WindowFor(models.SourceDashboard)
	start, end := window.Bounds(snap.Plan.IncidentTime)

	var evidence []models.Evidence

	boards, err := c.searchBoards(ctx, snap.Plan.AffectedServices)
	if err != nil {
		return nil, err
	}
	for _, board := range boards {
		ev, err := c.describeBoard(ctx, board)
		if err != nil {
			c.logger.Warn("Dashboard fetch failed",
				slog.String("uid", board.UID), slog.String("error", err.Error()))
			continue
		}
		evidence = append(evidence, *ev)
	}

	annotations, err := c.svc.Annotations(ctx, start, end, nil)
	if err != nil {
		// Annotations are additive; dashboards alone are still useful.
		c.logger.Warn("Annotation fetch failed", slog.String("error", err.Error()))
	}
	for _, a := range annotations {
		ts := a.Time
		conf := 0.6
		if isDeployment(a) {
			conf = 0.8
		}
		evidence = append(evidence, models.Evidence{
			ID:         uuid.NewString(),
			Source:     models.SourceDashboard,
			Content:    fmt.Sprintf("annotation: %s", a.Text),
			Timestamp:  &ts,
			Confidence: conf,
			Metadata:   map[string]string{"tags": strings.Join(a.Tags, ",")},
		})
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

// searchBoards queries once per affected service and dedups by UID.
func (c *Collector) searchBoards(ctx context.Context, services []string) ([]grafana.DashboardHit, error) {
	queries := services
	if len(queries) == 0 {
		queries = []string{""}
	}

	seen := make(map[string]bool)
	var boards []grafana.DashboardHit
	for _, q := range queries {
		hits, err := c.svc.Search(ctx, q, nil)
		if err != nil {
			return nil, fmt.Errorf("dashboard search failed: %w", err)
		}
		for _, h := range hits {
			if seen[h.UID] || len(boards) >= maxDashboards {
				continue
			}
			seen[h.UID] = true
			boards = append(boards, h)
		}
	}
	return boards, nil
}

func (c *Collector) describeBoard(ctx context.Context, hit grafana.DashboardHit) (*models.Evidence, error) {
	board, err := c.svc.Dashboard(ctx, hit.UID)
	if err != nil {
		return nil, err
	}

	panels := make([]string, 0, len(board.Panels))
	for _, p := range board.Panels {
		panels = append(panels, p.Title)
	}
	content := fmt.Sprintf("dashboard %q (%s)", board.Title, hit.UID)
	if len(panels) > 0 {
		content += ": panels " + strings.Join(panels, ", ")
	}

	return &models.Evidence{
		ID:         uuid.NewString(),
		Source:     models.SourceDashboard,
		Content:    content,
		Confidence: 0.5,
		Dashboard: &models.DashboardPayload{
			UID:   board.UID,
			Title: board.Title,
			Tags:  board.Tags,
		},
	}, nil
}

func isDeployment(a grafana.Annotation) bool {
	for _, tag := range a.Tags {
		if strings.EqualFold(tag, "deployment") || strings.EqualFold(tag, "release") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(a.Text), "deploy")
}
