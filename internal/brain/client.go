// Package brain talks to the local notes search service over HTTP.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/retry"
)

// Result is one scored hit from the notes index.
type Result struct {
	Entry string  `json:"entry"`
	File  string  `json:"file"`
	Score float64 `json:"score"`
}

// Stats reports index size as exposed by the search service.
type Stats struct {
	Documents int `json:"documents"`
	Files     int `json:"files"`
}

// Client queries the notes search service. The zero value is not usable;
// construct with NewClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the search service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Search runs a relevance query against the notes index. Transient failures
// are retried once before the caller degrades to composing without notes.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}
	u := fmt.Sprintf("%s/api/search?q=%s&limit=%s",
		c.baseURL, url.QueryEscape(query), strconv.Itoa(limit))

	var results []Result
	res := retry.Do(ctx, retry.Config{MaxAttempts: 2, InitialDelay: 200 * time.Millisecond}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("brain search: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("brain search: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("brain search: status %d", resp.StatusCode))
		}

		results = nil
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return fmt.Errorf("brain search: decode: %w", err)
		}
		return nil
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return results, nil
}

// Health reports whether the search service is reachable and ready.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("brain health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("brain health: status %d", resp.StatusCode)
	}
	return nil
}

// GetStats fetches index statistics.
func (c *Client) GetStats(ctx context.Context) (Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stats", nil)
	if err != nil {
		return Stats{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Stats{}, fmt.Errorf("brain stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Stats{}, fmt.Errorf("brain stats: status %d", resp.StatusCode)
	}
	var s Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Stats{}, fmt.Errorf("brain stats: decode: %w", err)
	}
	return s, nil
}
