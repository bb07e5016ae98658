// Package websearch fetches fresh results from a configurable web search
// backend.
package websearch

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Result is a single normalized search hit.
type Result struct {
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Snippet      string    `json:"snippet"`
	SourceDomain string    `json:"source_domain"`
	RetrievedAt  time.Time `json:"retrieved_at"`
	Score        float64   `json:"score,omitempty"`
}

// Provider is a web search backend.
type Provider interface {
	// Search runs the query and returns up to limit normalized results.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	// Name identifies the backend in logs and source records.
	Name() string
}

// New constructs the provider named in configuration. searxng needs a base
// URL; brave needs an API key.
func New(name, baseURL, apiKey string) (Provider, error) {
	switch name {
	case "", "searxng":
		if baseURL == "" {
			return nil, fmt.Errorf("websearch: searxng requires a base URL")
		}
		return NewSearxng(baseURL), nil
	case "brave":
		if apiKey == "" {
			return nil, fmt.Errorf("websearch: brave requires an API key")
		}
		return NewBrave(apiKey), nil
	default:
		return nil, fmt.Errorf("websearch: unknown provider %q", name)
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
