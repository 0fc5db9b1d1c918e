// Package planner derives the investigation plan for a run: affected
// services, normalized symptoms, per-source search windows, and which
// evidence agents to dispatch.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/faultline-io/faultline/pkg/llm"
	"github.com/faultline-io/faultline/pkg/models"
)

// Default search windows per source kind. RAG searches wider because
// similar past incidents are not anchored to this incident's clock.
var defaultWindows = map[models.SourceKind]models.Window{
	models.SourceLog:       {Before: 30 * time.Minute, After: 30 * time.Minute},
	models.SourceMetrics:   {Before: 30 * time.Minute, After: 30 * time.Minute},
	models.SourceDashboard: {Before: 30 * time.Minute, After: 30 * time.Minute},
	models.SourceImage:     {Before: 30 * time.Minute, After: 30 * time.Minute},
	models.SourceRAG:       {Before: 24 * time.Hour, After: 24 * time.Hour},
}

// defaultServices is the closed vocabulary used by deterministic
// extraction when the caller supplies no service hints.
var defaultServices = []string{
	"api-gateway", "auth-service", "payments", "checkout", "orders",
	"inventory", "notifications", "search", "frontend", "database",
	"postgres", "redis", "kafka", "cache",
}

// symptomKeywords maps normalized symptom tags to trigger words.
var symptomKeywords = map[string][]string{
	"latency":    {"slow", "latency", "timeout", "timing out", "p99", "p95", "degraded"},
	"error":      {"error", "errors", "500", "503", "failing", "failure", "exception"},
	"crash":      {"crash", "crashed", "restart", "restarting", "oom", "killed", "panic"},
	"memory":     {"memory", "oom", "heap", "leak"},
	"cpu":        {"cpu", "throttl", "load"},
	"network":    {"network", "connection", "refused", "unreachable", "dns", "packet"},
	"deployment": {"deploy", "deployment", "release", "rollout", "rolled out", "upgrade"},
	"dependency": {"dependency", "upstream", "downstream", "third-party", "external"},
}

var timestampPattern = regexp.MustCompile(
	`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?(Z|[+-]\d{2}:\d{2})?`)

// Planner builds plans with a reasoning model, falling back to
// deterministic extraction. Plan never fails the run.
type Planner struct {
	llm    llm.Client
	logger *slog.Logger
}

// New creates a planner. client may be nil, in which case only the
// deterministic path is used.
func New(client llm.Client, logger *slog.Logger) *Planner {
	return &Planner{llm: client, logger: logger}
}

const planSystem = `You are an incident analysis planner. Produce a JSON object
with exactly these fields:
{"affected_services": [string], "symptoms": [string], "priority": "low"|"medium"|"high"}

Symptoms must be chosen from: latency, error, crash, memory, cpu, network,
deployment, dependency. Respond with JSON only.`

const planPrompt = `Incident: %s
Known services: %s`

// llmPlan mirrors the schema the model is asked to emit.
type llmPlan struct {
	AffectedServices []string `json:"affected_services"`
	Symptoms         []string `json:"symptoms"`
	Priority         string   `json:"priority"`
}

// Plan derives the investigation plan for a request. It prefers the
// reasoning model and falls back to deterministic extraction on any
// model failure, so a usable plan is always returned.
func (p *Planner) Plan(ctx context.Context, req models.AnalysisRequest) models.Plan {
	plan := p.deterministic(req)

	if p.llm == nil {
		return plan
	}

	vocab := serviceVocabulary(req.Services)
	prompt := fmt.Sprintf(planPrompt, req.Query, strings.Join(vocab, ", "))
	text, err := p.llm.Complete(ctx, planSystem, prompt)
	if err != nil {
		p.logger.Warn("Planner model call failed, using deterministic plan",
			slog.String("error", err.Error()))
		return plan
	}

	var parsed llmPlan
	if err := llm.DecodeJSON(text, &parsed); err != nil {
		p.logger.Warn("Planner model returned malformed plan, using deterministic plan",
			slog.String("error", err.Error()))
		return plan
	}

	if len(parsed.AffectedServices) > 0 {
		plan.AffectedServices = normalize(parsed.AffectedServices)
	}
	if valid := validSymptoms(parsed.Symptoms); len(valid) > 0 {
		plan.Symptoms = valid
	}
	switch parsed.Priority {
	case "low", "medium", "high":
		plan.Priority = parsed.Priority
	}
	return plan
}

// deterministic builds a plan from the request alone: regex timestamp
// extraction, closed-vocabulary service matching, and symptom keyword
// matching.
func (p *Planner) deterministic(req models.AnalysisRequest) models.Plan {
	incidentTime := req.Timestamp.UTC()
	if incidentTime.IsZero() {
		if ts := extractTimestamp(req.Query); ts != nil {
			incidentTime = ts.UTC()
		}
	}

	query := strings.ToLower(req.Query)

	var services []string
	for _, svc := range serviceVocabulary(req.Services) {
		if strings.Contains(query, strings.ToLower(svc)) {
			services = append(services, svc)
		}
	}
	// Explicit hints are affected even when the text never names them.
	for _, svc := range req.Services {
		if !contains(services, svc) {
			services = append(services, svc)
		}
	}
	sort.Strings(services)

	var symptoms []string
	for tag, words := range symptomKeywords {
		for _, w := range words {
			if strings.Contains(query, w) {
				symptoms = append(symptoms, tag)
				break
			}
		}
	}
	sort.Strings(symptoms)

	plan := models.Plan{
		IncidentTime:     incidentTime,
		AffectedServices: services,
		Symptoms:         symptoms,
		SearchWindows:    make(map[models.SourceKind]models.Window, len(defaultWindows)),
		Priority:         priorityFor(symptoms, services),
	}

	plan.RequiredAgents = []models.SourceKind{
		models.SourceLog, models.SourceRAG, models.SourceMetrics, models.SourceDashboard,
	}
	if len(req.DashboardImages) > 0 {
		plan.RequiredAgents = append(plan.RequiredAgents, models.SourceImage)
	}
	for _, kind := range plan.RequiredAgents {
		plan.SearchWindows[kind] = defaultWindows[kind]
	}

	for _, svc := range services {
		plan.MetricTargets = append(plan.MetricTargets, models.MetricTarget{Service: svc})
	}
	return plan
}

func priorityFor(symptoms, services []string) string {
	severe := contains(symptoms, "crash") || contains(symptoms, "error")
	switch {
	case severe && len(services) > 1:
		return "high"
	case severe || len(symptoms) >= 2:
		return "medium"
	default:
		return "low"
	}
}

func extractTimestamp(text string) *time.Time {
	match := timestampPattern.FindString(text)
	if match == "" {
		return nil
	}
	match = strings.Replace(match, " ", "T", 1)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if ts, err := time.Parse(layout, match); err == nil {
			return &ts
		}
	}
	return nil
}

func serviceVocabulary(hints []string) []string {
	vocab := make([]string, 0, len(defaultServices)+len(hints))
	vocab = append(vocab, defaultServices...)
	for _, h := range hints {
		if !contains(vocab, h) {
			vocab = append(vocab, h)
		}
	}
	return vocab
}

func validSymptoms(symptoms []string) []string {
	var out []string
	for _, s := range normalize(symptoms) {
		if _, ok := symptomKeywords[s]; ok && !contains(out, s) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
