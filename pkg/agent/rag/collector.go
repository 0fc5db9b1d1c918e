// Package rag implements the retrieval agent over historical
// incidents and runbook sections.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline/pkg/agent"
	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/vector"
)

const (
	maxHitsPerCorpus      = 5
	minIncidentSimilarity = 0.5
	minRunbookSimilarity  = 0.4
)

// Collector is the RAG agent.
type Collector struct {
	store  vector.Store
	logger *slog.Logger

	incidentFloor float64
	runbookFloor  float64
}

// New creates a RAG collector. store may be nil when no indexes are
// configured.
func New(store vector.Store, logger *slog.Logger) *Collector {
	return &Collector{
		store:         store,
		logger:        logger,
		incidentFloor: minIncidentSimilarity,
		runbookFloor:  minRunbookSimilarity,
	}
}

// Kind implements agent.Collector.
func (c *Collector) Kind() models.SourceKind { return models.SourceRAG }

// Collect implements agent.Collector. Absent indexes produce an empty
// result with a recorded error rather than a failure.
func (c *Collector) Collect(ctx context.Context, snap models.Snapshot) (*agent.Result, error) {
	if c.store == nil {
		return nil, fmt.Errorf("retrieval indexes not configured")
	}

	query := strings.Join(append(append([]string{}, snap.Plan.Symptoms...),
		snap.Plan.AffectedServices...), " ")
	if query == "" {
		query = snap.Request.Query
	}

	var evidence []models.Evidence
	seen := make(map[string]bool)

	searches := []struct {
		corpus string
		floor  float64
	}{
		{vector.CorpusIncidents, c.incidentFloor},
		{vector.CorpusRunbooks, c.runbookFloor},
	}

	for _, s := range searches {
		hits, err := c.store.Search(ctx, s.corpus, query, maxHitsPerCorpus, s.floor)
		if err != nil {
			return &agent.Result{Evidence: evidence}, fmt.Errorf("%s search failed: %w", s.corpus, err)
		}
		for _, h := range hits {
			// Dedup across sub-searches by source document.
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			evidence = append(evidence, models.Evidence{
				ID:         uuid.NewString(),
				Source:     models.SourceRAG,
				Content:    h.Content,
				Confidence: h.Similarity,
				Document: &models.DocumentPayload{
					Corpus:     s.corpus,
					DocID:      h.ID,
					Similarity: h.Similarity,
				},
				Metadata: map[string]string{"title": h.Fields["title"]},
			})
		}
	}

	result := &agent.Result{Evidence: evidence}
	if len(evidence) > 0 {
		top := evidence[0].Confidence
		for _, ev := range evidence[1:] {
			if ev.Confidence > top {
				top = ev.Confidence
			}
		}
		result.Confidence = &top
	}
	return result, nil
}
