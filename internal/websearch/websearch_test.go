package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearxng_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("expected json format, got %q", got)
		}
		w.Write([]byte(`{"results":[
			{"title":"Go 1.25 released","url":"https://go.dev/blog/go1.25","content":"The latest Go release","score":1.5},
			{"title":"Other","url":"https://example.com/a","content":"b","score":0.5}
		]}`))
	}))
	defer srv.Close()

	p := NewSearxng(srv.URL)
	results, err := p.Search(context.Background(), "go release", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected limit to cap at 1, got %d", len(results))
	}
	r := results[0]
	if r.Title != "Go 1.25 released" || r.SourceDomain != "go.dev" {
		t.Errorf("unexpected result: %+v", r)
	}
	if r.RetrievedAt.IsZero() {
		t.Error("expected retrieved_at to be set")
	}
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "key123" {
			t.Errorf("missing subscription token, got %q", got)
		}
		w.Write([]byte(`{"web":{"results":[
			{"title":"Weather today","url":"https://weather.example.com/x","description":"Sunny"}
		]}}`))
	}))
	defer srv.Close()

	p := NewBrave("key123")
	p.endpoint = srv.URL

	results, err := p.Search(context.Background(), "weather", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].SourceDomain != "weather.example.com" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	if _, err := New("searxng", "", ""); err == nil {
		t.Error("expected error for searxng without base URL")
	}
	if _, err := New("brave", "", ""); err == nil {
		t.Error("expected error for brave without API key")
	}
	if _, err := New("altavista", "", ""); err == nil {
		t.Error("expected error for unknown provider")
	}
	p, err := New("", "http://localhost:8888", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "searxng" {
		t.Errorf("expected searxng default, got %q", p.Name())
	}
}
