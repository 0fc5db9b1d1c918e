package runbook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/vector"
)

const sampleRunbook = `# Payments OOM

Intro paragraph.

## Diagnosis

Check container_memory_usage_bytes for the payments pods.

## Mitigation

Roll back the most recent deployment and raise the memory limit.
`

func runbookServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(sampleRunbook))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServiceResolveFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := runbookServer(t, &hits)

	svc := NewService(&config.RunbooksConfig{CacheTTL: "1h"}, "")

	rb, err := svc.Resolve(context.Background(), srv.URL+"/oom.md")
	require.NoError(t, err)
	assert.Contains(t, rb.Content, "Roll back the most recent deployment")
	assert.Len(t, rb.Sections, 3)

	again, err := svc.Resolve(context.Background(), srv.URL+"/oom.md")
	require.NoError(t, err)
	assert.Same(t, rb, again)
	assert.Equal(t, int32(1), hits.Load(), "second resolve must hit the cache")
}

func TestServiceResolveEnforcesAllowlist(t *testing.T) {
	srv := runbookServer(t, nil)

	svc := NewService(&config.RunbooksConfig{
		CacheTTL:       "1h",
		AllowedDomains: []string{"wiki.example.com"},
	}, "")

	_, err := svc.Resolve(context.Background(), srv.URL+"/oom.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in allowed list")
}

func TestServiceResolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	svc := NewService(&config.RunbooksConfig{CacheTTL: "1h"}, "")

	_, err := svc.Resolve(context.Background(), srv.URL+"/oom.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestSplitSections(t *testing.T) {
	docs := SplitSections("https://wiki.example.com/payments-oom.md", sampleRunbook)

	require.Len(t, docs, 3)
	assert.Equal(t, "payments oom", docs[0].Fields["title"])
	assert.Equal(t, "Diagnosis", docs[1].Fields["title"])
	assert.Contains(t, docs[1].Content, "container_memory_usage_bytes")
	assert.Equal(t, "Mitigation", docs[2].Fields["title"])
	for _, d := range docs {
		assert.Equal(t, "https://wiki.example.com/payments-oom.md", d.Fields["url"])
	}
}

func TestSplitSectionsNoHeadings(t *testing.T) {
	docs := SplitSections("https://wiki.example.com/short.md", "just one line of advice")
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "just one line of advice")
}

func TestServiceSeedIndexesSections(t *testing.T) {
	srv := runbookServer(t, nil)

	store, err := vector.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(&config.RunbooksConfig{
		CacheTTL: "1h",
		URLs:     []string{srv.URL + "/payments-oom.md"},
	}, "")

	require.NoError(t, svc.Seed(context.Background(), store))

	hits, err := store.Search(context.Background(), vector.CorpusRunbooks, "memory mitigation rollback", 5, 0.01)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestServiceSeedSkipsBrokenURLs(t *testing.T) {
	store, err := vector.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(&config.RunbooksConfig{
		CacheTTL: "1h",
		URLs:     []string{"http://127.0.0.1:1/unreachable.md"},
	}, "")

	// The broken URL is skipped, not fatal.
	assert.NoError(t, svc.Seed(context.Background(), store))
}
