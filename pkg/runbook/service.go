package runbook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/vector"
)

// Service resolves runbook content by URL and seeds configured
// runbooks into the similarity index.
type Service struct {
	cache *Cache
	cfg   *config.RunbooksConfig
	http  *retryablehttp.Client
	token string
}

// NewService creates a runbook service. token may be empty (public
// sources only).
func NewService(cfg *config.RunbooksConfig, token string) *Service {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	ttl := time.Hour
	if cfg != nil {
		ttl = cfg.CacheTTLDuration()
	}

	return &Service{
		cache: NewCache(ttl),
		cfg:   cfg,
		http:  rc,
		token: token,
	}
}

// OverrideHTTPClientForTest replaces the underlying HTTP client.
// For testing only.
func (s *Service) OverrideHTTPClientForTest(client *http.Client) {
	s.http.HTTPClient = client
}

// Resolve fetches a runbook from a URL, validating it against the
// domain allowlist and consulting the cache first. The returned
// runbook carries its pre-split sections.
func (s *Service) Resolve(ctx context.Context, source string) (*Runbook, error) {
	var allowedDomains []string
	if s.cfg != nil {
		allowedDomains = s.cfg.AllowedDomains
	}
	if err := ValidateURL(source, allowedDomains); err != nil {
		return nil, err
	}

	fetchURL := rawContentURL(source)
	if rb, ok := s.cache.Get(fetchURL); ok {
		return rb, nil
	}

	content, err := s.fetch(ctx, fetchURL)
	if err != nil {
		return nil, err
	}

	rb := &Runbook{
		Source:    source,
		Content:   content,
		Sections:  SplitSections(source, content),
		FetchedAt: time.Now(),
	}
	s.cache.Put(fetchURL, rb)
	return rb, nil
}

// Seed fetches every configured runbook URL and indexes its sections
// into the runbooks corpus. Individual fetch failures are logged and
// skipped so one bad URL cannot block startup.
func (s *Service) Seed(ctx context.Context, store vector.Store) error {
	if s.cfg == nil || len(s.cfg.URLs) == 0 {
		return nil
	}

	var docs []vector.Document
	for _, source := range s.cfg.URLs {
		rb, err := s.Resolve(ctx, source)
		if err != nil {
			slog.Warn("Skipping runbook", "url", source, "error", err)
			continue
		}
		docs = append(docs, rb.Sections...)
	}
	if len(docs) == 0 {
		return nil
	}

	if err := store.Index(ctx, vector.CorpusRunbooks, docs); err != nil {
		return fmt.Errorf("indexing runbooks: %w", err)
	}
	slog.Info("Seeded runbook corpus", "urls", len(s.cfg.URLs), "sections", len(docs))
	return nil
}

// SplitSections splits markdown content into per-heading documents so
// similarity search can retrieve the relevant procedure rather than a
// whole runbook. Content before the first heading becomes its own
// section titled after the document.
func SplitSections(source, content string) []vector.Document {
	type section struct {
		title string
		body  []string
	}

	title := titleFromURL(source)
	sections := []section{{title: title}}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			sections = append(sections, section{title: strings.TrimPrefix(trimmed, "## ")})
			continue
		}
		last := len(sections) - 1
		sections[last].body = append(sections[last].body, line)
	}

	var docs []vector.Document
	for i, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.body, "\n"))
		if body == "" {
			continue
		}
		docs = append(docs, vector.Document{
			ID:      fmt.Sprintf("%s#%d", source, i),
			Content: sec.title + "\n" + body,
			Fields: map[string]string{
				"title": sec.title,
				"url":   source,
			},
		})
	}
	return docs
}

func (s *Service) fetch(ctx context.Context, fetchURL string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch runbook from %s: %w", fetchURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("runbook source returned HTTP %d for %s", resp.StatusCode, fetchURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(body), nil
}

// titleFromURL derives a readable title from the URL's final path
// segment.
func titleFromURL(source string) string {
	trimmed := strings.TrimRight(source, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(trimmed, ".md")
	trimmed = strings.ReplaceAll(trimmed, "-", " ")
	trimmed = strings.ReplaceAll(trimmed, "_", " ")
	if trimmed == "" {
		return "runbook"
	}
	return trimmed
}
