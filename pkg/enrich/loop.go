// Package enrich implements the tool-calling enrichment loop: a
// bounded conversation in which a reasoning model queries the
// observability backends through a fixed tool vocabulary and
// synthesizes what it finds into additional evidence.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/faultline-io/faultline/pkg/llm"
	"github.com/faultline-io/faultline/pkg/models"
)

const (
	minEnrichmentConfidence = 0.3
	maxEnrichmentConfidence = 0.95
)

const loopSystem = `You are investigating a production incident. Use the
available tools to query metrics and dashboards until you can add concrete
findings to the investigation. Prefer few, targeted queries.

When you are done, respond WITHOUT tool calls with a JSON object:
{"findings": [{"summary": string, "certainty": number}]}

Each summary is one self-contained factual finding. certainty is your
confidence in that finding, 0 to 1. Report an empty findings array if the
tools revealed nothing useful.`

// synthesis mirrors the final schema the model is asked to emit.
type synthesis struct {
	Findings []struct {
		Summary   string  `json:"summary"`
		Certainty float64 `json:"certainty"`
	} `json:"findings"`
}

// Loop runs bounded tool-calling conversations.
type Loop struct {
	llm           llm.Client
	executor      *Executor
	maxIterations int
	budget        time.Duration
	logger        *slog.Logger
}

// NewLoop creates a loop. budget is the wall-clock ceiling for one
// invocation.
func NewLoop(client llm.Client, executor *Executor, maxIterations int, budget time.Duration, logger *slog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	if budget <= 0 {
		budget = time.Minute
	}
	return &Loop{
		llm:           client,
		executor:      executor,
		maxIterations: maxIterations,
		budget:        budget,
		logger:        logger,
	}
}

// Run executes one enrichment conversation. focus states what the
// caller wants resolved (weak hypotheses, missing evidence kinds).
// Returned evidence carries source tool_enrichment.
func (l *Loop) Run(ctx context.Context, snap models.Snapshot, focus string) ([]models.Evidence, int, error) {
	if l.llm == nil {
		return nil, 0, fmt.Errorf("enrichment model not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, l.budget)
	defer cancel()

	tools := l.executor.Definitions()
	messages := []llm.Message{{Role: llm.RoleUser, Content: describeContext(snap, focus)}}

	var toolCalls []string
	iterations := 0
	finalText := ""

	for iterations < l.maxIterations {
		iterations++

		resp, err := l.llm.Chat(ctx, loopSystem, messages, tools)
		if err != nil {
			return nil, iterations, fmt.Errorf("enrichment turn %d failed: %w", iterations, err)
		}

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Text
			break
		}

		results := l.executeAll(ctx, resp.ToolCalls)
		for _, call := range resp.ToolCalls {
			toolCalls = append(toolCalls, call.Name)
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls},
			llm.Message{Role: llm.RoleUser, ToolResults: results},
		)
	}

	// Iteration budget spent mid-conversation: ask for the synthesis
	// directly, with the tools withdrawn.
	if finalText == "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: "The investigation budget is exhausted. Produce your final findings JSON now.",
		})
		resp, err := l.llm.Chat(ctx, loopSystem, messages, nil)
		if err != nil {
			return nil, iterations, fmt.Errorf("enrichment synthesis failed: %w", err)
		}
		finalText = resp.Text
	}

	return l.wrapFindings(finalText, iterations, toolCalls), iterations, nil
}

// executeAll runs one turn's tool calls. Independent calls run in
// parallel; results keep the request order.
func (l *Loop) executeAll(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = l.executor.Execute(gctx, call)
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if r.IsError {
			l.logger.Debug("Tool call failed",
				slog.String("tool", calls[i].Name),
				slog.String("result", r.Content))
		}
	}
	return results
}

// wrapFindings converts the model's synthesis into evidence items.
// Certainty is clamped; unparseable output degrades to a single
// finding at baseline confidence.
func (l *Loop) wrapFindings(text string, iterations int, toolCalls []string) []models.Evidence {
	now := time.Now().UTC()

	var parsed synthesis
	if err := llm.DecodeJSON(text, &parsed); err != nil {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		return []models.Evidence{newFinding(text, 0.5, now, iterations, toolCalls)}
	}

	var out []models.Evidence
	for _, f := range parsed.Findings {
		if strings.TrimSpace(f.Summary) == "" {
			continue
		}
		out = append(out, newFinding(f.Summary, f.Certainty, now, iterations, toolCalls))
	}
	return out
}

func newFinding(summary string, certainty float64, ts time.Time, iterations int, toolCalls []string) models.Evidence {
	if certainty < minEnrichmentConfidence {
		certainty = minEnrichmentConfidence
	}
	if certainty > maxEnrichmentConfidence {
		certainty = maxEnrichmentConfidence
	}
	return models.Evidence{
		ID:         uuid.NewString(),
		Source:     models.SourceToolEnrichment,
		Content:    summary,
		Timestamp:  &ts,
		Confidence: certainty,
		Enrichment: &models.EnrichmentPayload{
			Iterations: iterations,
			ToolCalls:  toolCalls,
		},
	}
}

// describeContext renders the incident context for the opening turn.
func describeContext(snap models.Snapshot, focus string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Incident: %s\n", snap.Request.Query)
	if !snap.Plan.IncidentTime.IsZero() {
		fmt.Fprintf(&b, "Incident time: %s\n", snap.Plan.IncidentTime.Format(time.RFC3339))
	}
	if len(snap.Plan.AffectedServices) > 0 {
		fmt.Fprintf(&b, "Affected services: %s\n", strings.Join(snap.Plan.AffectedServices, ", "))
	}

	if events := snap.Timeline; len(events) > 0 {
		b.WriteString("\nTimeline so far:\n")
		for _, e := range events {
			fmt.Fprintf(&b, "- [%s] (%s) %s\n", e.Time.Format(time.RFC3339), e.Source, e.Event)
		}
	} else if all := snap.AllEvidence(); len(all) > 0 {
		b.WriteString("\nEvidence so far:\n")
		for _, ev := range all {
			fmt.Fprintf(&b, "- (%s, confidence %.2f) %s\n", ev.Source, ev.Confidence, ev.Content)
		}
	}

	if focus != "" {
		fmt.Fprintf(&b, "\nFocus of this investigation:\n%s\n", focus)
	}
	return b.String()
}
