package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/faultline-io/faultline/pkg/llm"
	"github.com/faultline-io/faultline/pkg/obs/grafana"
	"github.com/faultline-io/faultline/pkg/obs/promapi"
)

// The fixed tool vocabulary offered to the model. Exactly these seven
// operations exist; the loop rejects anything else.
const (
	toolMetricsInstant       = "metrics_instant"
	toolMetricsRange         = "metrics_range"
	toolMetricsAlerts        = "metrics_alerts"
	toolMetricsTargets       = "metrics_targets"
	toolDashboardsSearch     = "dashboards_search"
	toolDashboardGet         = "dashboard_get"
	toolDashboardAnnotations = "dashboard_annotations"
)

// Executor binds the tool vocabulary to the observability backends.
// Every tool is a read, so calls are idempotent and safe to repeat.
type Executor struct {
	metrics    promapi.Querier
	dashboards grafana.Service
}

// NewExecutor creates an executor. Either backend may be nil; tools
// against a missing backend return in-band errors.
func NewExecutor(metrics promapi.Querier, dashboards grafana.Service) *Executor {
	return &Executor{metrics: metrics, dashboards: dashboards}
}

// Definitions returns the tool schemas advertised to the model.
func (e *Executor) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        toolMetricsInstant,
			Description: "Evaluate a PromQL expression at a single instant. Returns samples with labels and values.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expr": map[string]any{"type": "string", "description": "PromQL expression"},
					"time": map[string]any{"type": "string", "description": "RFC3339 evaluation time, defaults to now"},
				},
				"required": []string{"expr"},
			},
		},
		{
			Name:        toolMetricsRange,
			Description: "Evaluate a PromQL expression over a time range. Returns one series of (time, value) points per label set.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expr":  map[string]any{"type": "string", "description": "PromQL expression"},
					"start": map[string]any{"type": "string", "description": "RFC3339 range start"},
					"end":   map[string]any{"type": "string", "description": "RFC3339 range end"},
					"step":  map[string]any{"type": "string", "description": "step duration such as 60s, defaults to 60s"},
				},
				"required": []string{"expr", "start", "end"},
			},
		},
		{
			Name:        toolMetricsAlerts,
			Description: "List currently firing and pending alerts.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        toolMetricsTargets,
			Description: "List active scrape targets and their health.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        toolDashboardsSearch,
			Description: "Search dashboards by free-text query and tags. Returns dashboard metadata.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
		{
			Name:        toolDashboardGet,
			Description: "Fetch one dashboard's panel definitions by UID.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"uid": map[string]any{"type": "string"},
				},
				"required": []string{"uid"},
			},
		},
		{
			Name:        toolDashboardAnnotations,
			Description: "Fetch dashboard annotations within a time window, optionally filtered by tags.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start": map[string]any{"type": "string", "description": "RFC3339 window start"},
					"end":   map[string]any{"type": "string", "description": "RFC3339 window end"},
					"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"start", "end"},
			},
		},
	}
}

// Execute runs one tool call and renders its result as JSON. Failures
// come back as in-band error results, never as Go errors, so the loop
// can hand them to the model and continue.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	payload, err := e.dispatch(ctx, call)
	if err != nil {
		return llm.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf(`{"error": %q}`, err.Error()),
			IsError:    true,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return llm.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf(`{"error": %q}`, err.Error()),
			IsError:    true,
		}
	}
	return llm.ToolResult{ToolCallID: call.ID, Content: string(body)}
}

func (e *Executor) dispatch(ctx context.Context, call llm.ToolCall) (any, error) {
	switch call.Name {
	case toolMetricsInstant, toolMetricsRange, toolMetricsAlerts, toolMetricsTargets:
		if e.metrics == nil {
			return nil, fmt.Errorf("metrics backend not configured")
		}
	case toolDashboardsSearch, toolDashboardGet, toolDashboardAnnotations:
		if e.dashboards == nil {
			return nil, fmt.Errorf("dashboard backend not configured")
		}
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}

	switch call.Name {
	case toolMetricsInstant:
		var in struct {
			Expr string `json:"expr"`
			Time string `json:"time"`
		}
		if err := decodeInput(call.Input, &in); err != nil {
			return nil, err
		}
		ts := time.Now().UTC()
		if in.Time != "" {
			parsed, err := time.Parse(time.RFC3339, in.Time)
			if err != nil {
				return nil, fmt.Errorf("invalid time: %w", err)
			}
			ts = parsed
		}
		return e.metrics.Instant(ctx, in.Expr, ts)

	case toolMetricsRange:
		var in struct {
			Expr  string `json:"expr"`
			Start string `json:"start"`
			End   string `json:"end"`
			Step  string `json:"step"`
		}
		if err := decodeInput(call.Input, &in); err != nil {
			return nil, err
		}
		start, err := time.Parse(time.RFC3339, in.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, in.End)
		if err != nil {
			return nil, fmt.Errorf("invalid end: %w", err)
		}
		step := time.Minute
		if in.Step != "" {
			step, err = time.ParseDuration(in.Step)
			if err != nil {
				return nil, fmt.Errorf("invalid step: %w", err)
			}
		}
		return e.metrics.Range(ctx, in.Expr, start, end, step)

	case toolMetricsAlerts:
		return e.metrics.Alerts(ctx)

	case toolMetricsTargets:
		return e.metrics.Targets(ctx)

	case toolDashboardsSearch:
		var in struct {
			Query string   `json:"query"`
			Tags  []string `json:"tags"`
		}
		if err := decodeInput(call.Input, &in); err != nil {
			return nil, err
		}
		return e.dashboards.Search(ctx, in.Query, in.Tags)

	case toolDashboardGet:
		var in struct {
			UID string `json:"uid"`
		}
		if err := decodeInput(call.Input, &in); err != nil {
			return nil, err
		}
		return e.dashboards.Dashboard(ctx, in.UID)

	default: // toolDashboardAnnotations
		var in struct {
			Start string   `json:"start"`
			End   string   `json:"end"`
			Tags  []string `json:"tags"`
		}
		if err := decodeInput(call.Input, &in); err != nil {
			return nil, err
		}
		start, err := time.Parse(time.RFC3339, in.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, in.End)
		if err != nil {
			return nil, fmt.Errorf("invalid end: %w", err)
		}
		return e.dashboards.Annotations(ctx, start, end, in.Tags)
	}
}

func decodeInput(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}
