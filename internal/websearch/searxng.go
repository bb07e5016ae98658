package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Searxng queries a self-hosted SearXNG instance over its JSON API. No API
// key is required.
type Searxng struct {
	baseURL string
	http    *http.Client
}

// NewSearxng creates a SearXNG-backed provider for the instance at baseURL.
func NewSearxng(baseURL string) *Searxng {
	return &Searxng{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *Searxng) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search runs the query against the instance's /search endpoint.
func (s *Searxng) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng: status %d", resp.StatusCode)
	}

	var body searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("searxng: decode: %w", err)
	}

	now := time.Now()
	out := make([]Result, 0, limit)
	for _, r := range body.Results {
		if len(out) >= limit {
			break
		}
		out = append(out, Result{
			Title:        r.Title,
			URL:          r.URL,
			Snippet:      r.Content,
			SourceDomain: domainOf(r.URL),
			RetrievedAt:  now,
			Score:        r.Score,
		})
	}
	return out, nil
}
