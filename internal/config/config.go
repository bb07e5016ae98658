// Package config loads service configuration from the environment and
// tool-server definitions from JSON5 files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the service configuration read from environment variables.
type Config struct {
	// BrainFolder is the root path for the user knowledge base and
	// per-user state files.
	BrainFolder string

	// SearchURL is the semantic-search service base URL.
	SearchURL string

	// LLMURL is the default pipe-inference server URL.
	LLMURL string

	// Model is the default model name.
	Model string

	// MaxContextTokens is the composer token budget.
	MaxContextTokens int

	EnableBrainSearch bool
	EnableWebSearch   bool

	// WebSearchProvider selects the web search backend ("searxng" or "brave").
	WebSearchProvider string
	WebSearchURL      string
	WebSearchAPIKey   string

	// NotifyTopic is the notification publish URL.
	NotifyTopic string

	SecretStoreURL   string
	SecretStoreToken string

	// SlackBotToken and SlackAppToken authenticate the chat adapter.
	SlackBotToken string
	SlackAppToken string

	// ToolServerConfig is the path to the tool-server config file.
	// A sibling *.local.json overlay is applied when present.
	ToolServerConfig string

	// ListenAddr serves /healthz and /metrics.
	ListenAddr string

	// ReplyTimeout bounds one message's generation phase; zero disables it.
	ReplyTimeout time.Duration
}

// DefaultMaxContextTokens is the composer budget when MAX_CONTEXT_TOKENS
// is unset.
const DefaultMaxContextTokens = 6000

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		BrainFolder:       os.Getenv("BRAIN_FOLDER"),
		SearchURL:         os.Getenv("SEARCH_URL"),
		LLMURL:            envDefault("LLM_URL", "http://localhost:11434"),
		Model:             envDefault("MODEL", "llama3.1:8b"),
		MaxContextTokens:  DefaultMaxContextTokens,
		EnableBrainSearch: envBool("ENABLE_BRAIN_SEARCH", true),
		EnableWebSearch:   envBool("ENABLE_WEB_SEARCH", true),
		WebSearchProvider: envDefault("WEB_SEARCH_PROVIDER", "searxng"),
		WebSearchURL:      os.Getenv("WEB_SEARCH_URL"),
		WebSearchAPIKey:   os.Getenv("WEB_SEARCH_API_KEY"),
		NotifyTopic:       os.Getenv("NOTIFY_TOPIC"),
		SecretStoreURL:    os.Getenv("SECRET_STORE_URL"),
		SecretStoreToken:  os.Getenv("SECRET_STORE_TOKEN"),
		SlackBotToken:     os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:     os.Getenv("SLACK_APP_TOKEN"),
		ToolServerConfig:  envDefault("TOOL_SERVER_CONFIG", filepath.Join("config", "tool_servers.json")),
		ListenAddr:        envDefault("LISTEN_ADDR", ":8090"),
	}

	if raw := os.Getenv("REPLY_TIMEOUT_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REPLY_TIMEOUT_SECONDS %q", raw)
		}
		cfg.ReplyTimeout = time.Duration(n) * time.Second
	}

	if cfg.BrainFolder == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("BRAIN_FOLDER not set and no home dir: %w", err)
		}
		cfg.BrainFolder = filepath.Join(home, "brain")
	}

	if raw := os.Getenv("MAX_CONTEXT_TOKENS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_CONTEXT_TOKENS %q", raw)
		}
		cfg.MaxContextTokens = n
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
