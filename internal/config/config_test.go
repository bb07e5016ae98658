package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/secrets"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("BRAIN_FOLDER", t.TempDir())

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLMURL != "http://localhost:11434" {
		t.Errorf("LLMURL = %q", cfg.LLMURL)
	}
	if cfg.MaxContextTokens != DefaultMaxContextTokens {
		t.Errorf("MaxContextTokens = %d", cfg.MaxContextTokens)
	}
	if !cfg.EnableBrainSearch || !cfg.EnableWebSearch {
		t.Error("search features must default on")
	}
	if cfg.ReplyTimeout != 0 {
		t.Errorf("ReplyTimeout must default to zero, got %v", cfg.ReplyTimeout)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BRAIN_FOLDER", t.TempDir())
	t.Setenv("MAX_CONTEXT_TOKENS", "2000")
	t.Setenv("ENABLE_WEB_SEARCH", "off")
	t.Setenv("REPLY_TIMEOUT_SECONDS", "90")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxContextTokens != 2000 {
		t.Errorf("MaxContextTokens = %d", cfg.MaxContextTokens)
	}
	if cfg.EnableWebSearch {
		t.Error("ENABLE_WEB_SEARCH=off must disable web search")
	}
	if cfg.ReplyTimeout != 90*time.Second {
		t.Errorf("ReplyTimeout = %v", cfg.ReplyTimeout)
	}
}

func TestFromEnv_InvalidBudget(t *testing.T) {
	t.Setenv("BRAIN_FOLDER", t.TempDir())
	t.Setenv("MAX_CONTEXT_TOKENS", "nope")

	if _, err := FromEnv(); err == nil {
		t.Error("expected error for invalid MAX_CONTEXT_TOKENS")
	}
}

func TestLoadToolServers_OverlayAndSecrets(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "tool_servers.json")

	// JSON5: comments and trailing commas are allowed.
	if err := os.WriteFile(base, []byte(`{
  // base definitions
  "servers": [
    {"name": "alpha", "transport": "pipe", "command": "alpha-srv", "enabled": true},
    {"name": "beta", "transport": "http-sse", "url": "http://localhost:9000",
     "headers": {"Authorization": "secret:BETA_TOKEN"}, "enabled": true},
  ],
}`), 0o644); err != nil {
		t.Fatal(err)
	}
	local := filepath.Join(dir, "tool_servers.local.json")
	if err := os.WriteFile(local, []byte(`{
  "servers": [
    {"name": "alpha", "transport": "pipe", "command": "alpha-dev", "enabled": false},
  ],
}`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BETA_TOKEN", "tok-123")

	servers, err := LoadToolServers(context.Background(), base, secrets.EnvStore{})
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}

	byName := map[string]*ToolServerConfig{}
	for _, sc := range servers {
		byName[sc.Name] = sc
	}
	if byName["alpha"].Command != "alpha-dev" || byName["alpha"].Enabled {
		t.Errorf("local overlay must replace base entry: %+v", byName["alpha"])
	}
	if byName["beta"].Headers["Authorization"] != "tok-123" {
		t.Errorf("secret not resolved: %q", byName["beta"].Headers["Authorization"])
	}
}

func TestLoadToolServers_MissingFile(t *testing.T) {
	servers, err := LoadToolServers(context.Background(),
		filepath.Join(t.TempDir(), "absent.json"), secrets.EnvStore{})
	if err != nil {
		t.Fatalf("missing config must not error: %v", err)
	}
	if len(servers) != 0 {
		t.Errorf("expected no servers, got %d", len(servers))
	}
}

func TestToolServerConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  ToolServerConfig
		ok   bool
	}{
		{"pipe ok", ToolServerConfig{Name: "a", Transport: TransportPipe, Command: "x"}, true},
		{"pipe no command", ToolServerConfig{Name: "a", Transport: TransportPipe}, false},
		{"sse ok", ToolServerConfig{Name: "a", Transport: TransportSSE, URL: "http://h"}, true},
		{"sse bad url", ToolServerConfig{Name: "a", Transport: TransportSSE, URL: "h"}, false},
		{"unknown transport", ToolServerConfig{Name: "a", Transport: "smoke"}, false},
		{"no name", ToolServerConfig{Transport: TransportPipe, Command: "x"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if (err == nil) != c.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, c.ok)
			}
		})
	}
}
