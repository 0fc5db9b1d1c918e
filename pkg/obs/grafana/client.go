// Package grafana is the dashboard backend client. It speaks the
// Grafana-compatible HTTP JSON API (search, dashboard by UID,
// annotations) with optional bearer authentication.
package grafana

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DashboardHit is one search result.
type DashboardHit struct {
	UID   string   `json:"uid"`
	Title string   `json:"title"`
	URL   string   `json:"url"`
	Tags  []string `json:"tags"`
}

// Panel is one panel of a dashboard definition.
type Panel struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Type    string   `json:"type"`
	Queries []string `json:"queries"`
}

// Dashboard is a dashboard definition reduced to what the pipeline
// consumes.
type Dashboard struct {
	UID    string   `json:"uid"`
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Panels []Panel  `json:"panels"`
}

// Annotation is one dashboard annotation.
type Annotation struct {
	ID          int64     `json:"id"`
	DashboardID int64     `json:"dashboardId"`
	Time        time.Time `json:"time"`
	Text        string    `json:"text"`
	Tags        []string  `json:"tags"`
}

// Service is the dashboard backend interface consumed by the pipeline.
type Service interface {
	Search(ctx context.Context, query string, tags []string) ([]DashboardHit, error)
	Dashboard(ctx context.Context, uid string) (*Dashboard, error)
	Annotations(ctx context.Context, from, to time.Time, tags []string) ([]Annotation, error)
}

// Client implements Service over HTTP with automatic retries on
// transient failures.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

// New creates a client for the given base URL. token may be empty for
// unauthenticated backends.
func New(baseURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    rc,
	}
}

// Search implements Service.Search.
func (c *Client) Search(ctx context.Context, query string, tags []string) ([]DashboardHit, error) {
	params := url.Values{}
	params.Set("type", "dash-db")
	if query != "" {
		params.Set("query", query)
	}
	for _, tag := range tags {
		params.Add("tag", tag)
	}

	var hits []DashboardHit
	if err := c.getJSON(ctx, "/api/search?"+params.Encode(), &hits); err != nil {
		return nil, fmt.Errorf("dashboard search failed: %w", err)
	}
	return hits, nil
}

// rawDashboard mirrors the /api/dashboards/uid response shape.
type rawDashboard struct {
	Dashboard struct {
		UID    string   `json:"uid"`
		Title  string   `json:"title"`
		Tags   []string `json:"tags"`
		Panels []struct {
			ID      int    `json:"id"`
			Title   string `json:"title"`
			Type    string `json:"type"`
			Targets []struct {
				Expr string `json:"expr"`
			} `json:"targets"`
		} `json:"panels"`
	} `json:"dashboard"`
}

// Dashboard implements Service.Dashboard.
func (c *Client) Dashboard(ctx context.Context, uid string) (*Dashboard, error) {
	var raw rawDashboard
	if err := c.getJSON(ctx, "/api/dashboards/uid/"+url.PathEscape(uid), &raw); err != nil {
		return nil, fmt.Errorf("dashboard %s fetch failed: %w", uid, err)
	}

	d := &Dashboard{
		UID:   raw.Dashboard.UID,
		Title: raw.Dashboard.Title,
		Tags:  raw.Dashboard.Tags,
	}
	for _, p := range raw.Dashboard.Panels {
		panel := Panel{ID: p.ID, Title: p.Title, Type: p.Type}
		for _, tgt := range p.Targets {
			if tgt.Expr != "" {
				panel.Queries = append(panel.Queries, tgt.Expr)
			}
		}
		d.Panels = append(d.Panels, panel)
	}
	return d, nil
}

// rawAnnotation carries annotation times as epoch milliseconds.
type rawAnnotation struct {
	ID          int64    `json:"id"`
	DashboardID int64    `json:"dashboardId"`
	Time        int64    `json:"time"`
	Text        string   `json:"text"`
	Tags        []string `json:"tags"`
}

// Annotations implements Service.Annotations.
func (c *Client) Annotations(ctx context.Context, from, to time.Time, tags []string) ([]Annotation, error) {
	params := url.Values{}
	params.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	params.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	for _, tag := range tags {
		params.Add("tags", tag)
	}

	var raw []rawAnnotation
	if err := c.getJSON(ctx, "/api/annotations?"+params.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("annotations fetch failed: %w", err)
	}

	anns := make([]Annotation, 0, len(raw))
	for _, a := range raw {
		anns = append(anns, Annotation{
			ID:          a.ID,
			DashboardID: a.DashboardID,
			Time:        time.UnixMilli(a.Time).UTC(),
			Text:        a.Text,
			Tags:        a.Tags,
		})
	}
	return anns, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
