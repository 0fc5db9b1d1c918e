// Package vector provides the similarity index over historical
// incidents, runbook sections, and indexed log lines. The pipeline
// consumes the narrow Store interface; the embedding and ranking
// strategy is an implementation detail behind it.
package vector

import (
	"context"
	"errors"
)

// Corpus names recognized by the store.
const (
	CorpusIncidents = "incidents"
	CorpusRunbooks  = "runbooks"
	CorpusLogs      = "logs"
)

// Corpora lists all recognized corpus names.
var Corpora = []string{CorpusIncidents, CorpusRunbooks, CorpusLogs}

// ErrUnknownCorpus indicates a corpus name outside the recognized set.
var ErrUnknownCorpus = errors.New("unknown corpus")

// Document is one indexable item.
type Document struct {
	ID      string
	Content string
	Fields  map[string]string // service, severity, incident id, section title, ...
}

// Hit is one similarity-search result. Similarity is normalized to
// (0,1]; callers apply their own floors.
type Hit struct {
	ID         string
	Content    string
	Similarity float64
	Fields     map[string]string
}

// Store is the similarity index consumed by the log and RAG agents.
// Implementations must be safe for concurrent use.
type Store interface {
	// Search returns up to k hits from corpus with similarity >= minSimilarity,
	// ranked best-first.
	Search(ctx context.Context, corpus, query string, k int, minSimilarity float64) ([]Hit, error)

	// Index adds or replaces documents in a corpus.
	Index(ctx context.Context, corpus string, docs []Document) error

	// Close releases index resources.
	Close() error
}
