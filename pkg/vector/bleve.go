package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// BleveStore implements Store with one bleve index per corpus.
// Raw bleve relevance scores are unbounded, so they are squashed with
// score/(score+1) to produce a stable similarity in (0,1).
type BleveStore struct {
	mu      sync.RWMutex
	indexes map[string]bleve.Index
}

// NewBleveStore opens (or creates) the per-corpus indexes under dataPath.
func NewBleveStore(dataPath string) (*BleveStore, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index path: %w", err)
	}

	s := &BleveStore{indexes: make(map[string]bleve.Index, len(Corpora))}
	for _, corpus := range Corpora {
		path := filepath.Join(dataPath, corpus+".bleve")
		idx, err := bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, bleve.NewIndexMapping())
			if err != nil {
				s.closeAll()
				return nil, fmt.Errorf("failed to create %s index: %w", corpus, err)
			}
			slog.Info("Created similarity index", "corpus", corpus, "path", path)
		} else if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("failed to open %s index: %w", corpus, err)
		}
		s.indexes[corpus] = idx
	}
	return s, nil
}

// NewMemoryStore builds an in-memory store. Used by tests and by
// deployments without a persistent index path.
func NewMemoryStore() (*BleveStore, error) {
	s := &BleveStore{indexes: make(map[string]bleve.Index, len(Corpora))}
	for _, corpus := range Corpora {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("failed to create in-memory %s index: %w", corpus, err)
		}
		s.indexes[corpus] = idx
	}
	return s, nil
}

// Search implements Store.Search.
func (s *BleveStore) Search(ctx context.Context, corpus, query string, k int, minSimilarity float64) ([]Hit, error) {
	s.mu.RLock()
	idx, ok := s.indexes[corpus]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCorpus, corpus)
	}
	if k <= 0 {
		k = 10
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	req.Fields = []string{"*"}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", corpus, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		sim := h.Score / (h.Score + 1)
		if sim < minSimilarity {
			continue
		}
		hit := Hit{ID: h.ID, Similarity: sim, Fields: make(map[string]string, len(h.Fields))}
		for name, val := range h.Fields {
			str, ok := val.(string)
			if !ok {
				continue
			}
			if name == "content" {
				hit.Content = str
			} else {
				hit.Fields[name] = str
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Index implements Store.Index.
func (s *BleveStore) Index(ctx context.Context, corpus string, docs []Document) error {
	s.mu.RLock()
	idx, ok := s.indexes[corpus]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCorpus, corpus)
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := map[string]any{"content": doc.Content}
		for name, val := range doc.Fields {
			fields[name] = val
		}
		if err := batch.Index(doc.ID, fields); err != nil {
			return fmt.Errorf("failed to batch document %q: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("%s index batch failed: %w", corpus, err)
	}
	return nil
}

// Close implements Store.Close.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAllLocked()
}

func (s *BleveStore) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.closeAllLocked()
}

func (s *BleveStore) closeAllLocked() error {
	var firstErr error
	for corpus, idx := range s.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s index: %w", corpus, err)
		}
		delete(s.indexes, corpus)
	}
	return firstErr
}
