// Package logs implements the log evidence agent. It retrieves log
// lines through vector similarity over an indexed corpus when one is
// available and falls back to keyword scoring of logs attached to the
// request.
package logs

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline/pkg/agent"
	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/vector"
)

const minLogSimilarity = 0.3

// Collector is the log agent.
type Collector struct {
	store         vector.Store
	maxEvidence   int
	minSimilarity float64
	logger        *slog.Logger
}

// New creates a log collector. store may be nil, in which case only
// request-attached logs are scanned.
func New(store vector.Store, maxEvidence int, logger *slog.Logger) *Collector {
	if maxEvidence <= 0 {
		maxEvidence = 20
	}
	return &Collector{
		store:         store,
		maxEvidence:   maxEvidence,
		minSimilarity: minLogSimilarity,
		logger:        logger,
	}
}

// Kind implements agent.Collector.
func (c *Collector) Kind() models.SourceKind { return models.SourceLog }

// Collect implements agent.Collector.
func (c *Collector) Collect(ctx context.Context, snap models.Snapshot) (*agent.Result, error) {
	window := snap.Plan.WindowFor(models.SourceLog)
	start, end := window.Bounds(snap.Plan.IncidentTime)

	var evidence []models.Evidence

	if c.store != nil {
		indexed, err := c.searchIndexed(ctx, snap, start, end)
		if err != nil {
			// Index trouble degrades to the in-request path.
			c.logger.Warn("Log index search failed, scanning request logs only",
				slog.String("error", err.Error()))
		}
		evidence = append(evidence, indexed...)
	}

	evidence = append(evidence, c.scanRequestLogs(snap, start, end)...)

	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Confidence > evidence[j].Confidence
	})
	if len(evidence) > c.maxEvidence {
		evidence = evidence[:c.maxEvidence]
	}

	result := &agent.Result{Evidence: evidence}
	if len(evidence) > 0 {
		top := evidence[0].Confidence
		result.Confidence = &top
	}
	return result, nil
}

func (c *Collector) searchIndexed(ctx context.Context, snap models.Snapshot, start, end time.Time) ([]models.Evidence, error) {
	query := strings.Join(append(append([]string{}, snap.Plan.Symptoms...),
		snap.Plan.AffectedServices...), " ")
	if query == "" {
		query = snap.Request.Query
	}

	hits, err := c.store.Search(ctx, vector.CorpusLogs, query, c.maxEvidence, c.minSimilarity)
	if err != nil {
		return nil, err
	}

	var evidence []models.Evidence
	for _, h := range hits {
		ev := models.Evidence{
			ID:      uuid.NewString(),
			Source:  models.SourceLog,
			Content: h.Content,
			Log: &models.LogPayload{
				Service: h.Fields["service"],
				Level:   h.Fields["level"],
			},
			Metadata: map[string]string{"retrieval": "vector", "doc_id": h.ID},
		}
		if ts := parseFieldTime(h.Fields["time"]); ts != nil {
			if ts.Before(start) || ts.After(end) {
				continue
			}
			ev.Timestamp = ts
		}
		ev.Confidence = scoreLine(h.Similarity, ev.Log.Level, ev.Timestamp, snap.Plan)
		evidence = append(evidence, ev)
	}
	return evidence, nil
}

func (c *Collector) scanRequestLogs(snap models.Snapshot, start, end time.Time) []models.Evidence {
	var evidence []models.Evidence
	for _, line := range snap.Request.Logs {
		ts := parseLogTime(line.Time)
		if ts != nil && (ts.Before(start) || ts.After(end)) {
			continue
		}
		if len(snap.Plan.AffectedServices) > 0 && line.Service != "" &&
			!containsFold(snap.Plan.AffectedServices, line.Service) {
			continue
		}

		sim := keywordSimilarity(line.Message, snap.Plan.Symptoms)
		ev := models.Evidence{
			ID:      uuid.NewString(),
			Source:  models.SourceLog,
			Content: line.Message,
			Log:     &models.LogPayload{Service: line.Service, Level: line.Level},
			Metadata: map[string]string{
				"retrieval": "inline",
				"source":    line.Source,
			},
		}
		ev.Timestamp = ts
		ev.Confidence = scoreLine(sim, line.Level, ev.Timestamp, snap.Plan)
		evidence = append(evidence, ev)
	}
	return evidence
}

// scoreLine combines similarity, severity, and temporal proximity to
// the incident into a single confidence.
func scoreLine(similarity float64, level string, ts *time.Time, plan models.Plan) float64 {
	score := 0.2 + 0.5*similarity

	switch strings.ToUpper(level) {
	case "FATAL", "CRITICAL":
		score += 0.25
	case "ERROR":
		score += 0.2
	case "WARN", "WARNING":
		score += 0.1
	}

	if ts != nil && !plan.IncidentTime.IsZero() {
		window := plan.WindowFor(models.SourceLog)
		span := window.Before + window.After
		if span > 0 {
			delta := ts.Sub(plan.IncidentTime)
			if delta < 0 {
				delta = -delta
			}
			proximity := 1 - float64(delta)/float64(span)
			if proximity > 0 {
				score += 0.15 * proximity
			}
		}
	}

	if score > 0.95 {
		score = 0.95
	}
	if score < 0.05 {
		score = 0.05
	}
	return score
}

// keywordSimilarity approximates relevance for the inline path as the
// fraction of symptom categories the line mentions.
func keywordSimilarity(message string, symptoms []string) float64 {
	if len(symptoms) == 0 {
		return 0.2
	}
	lower := strings.ToLower(message)
	hits := 0
	for _, s := range symptoms {
		if strings.Contains(lower, s) {
			hits++
		}
	}
	base := 0.15 + 0.85*float64(hits)/float64(len(symptoms))
	if severityToken(lower) {
		base += 0.1
	}
	if base > 1 {
		base = 1
	}
	return base
}

func severityToken(lower string) bool {
	for _, tok := range []string{"error", "fatal", "panic", "exception", "oom", "timeout", "refused", "failed"} {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func parseFieldTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		ts = ts.UTC()
		return &ts
	}
	return nil
}

// parseLogTime is best-effort: in-request log lines carry timestamps in
// whatever format the caller's tooling wrote them.
func parseLogTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
