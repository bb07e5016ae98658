package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/brain"
	"github.com/earchibald/home-brain-sub000/internal/facts"
	"github.com/earchibald/home-brain-sub000/internal/websearch"
	"github.com/earchibald/home-brain-sub000/pkg/models"
)

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// RegisterFactsTool adds the remember_fact tool backed by the facts store.
func RegisterFactsTool(r *Registry, store *facts.Store) error {
	return r.Register(Tool{
		Name:        "remember_fact",
		Description: "Store a fact about the user for future conversations. Use when the user shares something worth remembering.",
		Category:    models.ToolBuiltin,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "description": "Short identifier, e.g. favorite_coffee"},
				"value": {"type": "string", "description": "The fact itself"},
				"category": {"type": "string", "enum": ["personal","preferences","health","work","family","goals","context","other"]}
			},
			"required": ["key", "value"]
		}`),
		Execute: func(ctx context.Context, userID string, args map[string]any) (string, error) {
			key := argString(args, "key")
			value := argString(args, "value")
			if key == "" || value == "" {
				return "", fmt.Errorf("key and value are required")
			}
			res, err := store.Store(userID, key, value, argString(args, "category"))
			if err != nil {
				return "", err
			}
			if res.WasUpdate {
				return fmt.Sprintf("Updated %s (was: %s)", facts.NormalizeKey(key), res.PrevValue), nil
			}
			return fmt.Sprintf("Remembered %s", facts.NormalizeKey(key)), nil
		},
	})
}

// RegisterWebSearchTool adds the web_search tool backed by the configured
// search provider.
func RegisterWebSearchTool(r *Registry, provider websearch.Provider) error {
	return r.Register(Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Use for recent events, news, or anything time-sensitive.",
		Category:    models.ToolBuiltin,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"limit": {"type": "integer", "description": "Maximum results, default 5"}
			},
			"required": ["query"]
		}`),
		Execute: func(ctx context.Context, userID string, args map[string]any) (string, error) {
			query := argString(args, "query")
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			results, err := provider.Search(ctx, query, argInt(args, "limit", 5))
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No results found.", nil
			}

			var b strings.Builder
			for i, res := range results {
				fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, res.Title, res.URL, res.Snippet)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})
}

// RegisterBrainSearchTool adds the brain_search tool over the local notes
// index.
func RegisterBrainSearchTool(r *Registry, client *brain.Client) error {
	return r.Register(Tool{
		Name:        "brain_search",
		Description: "Search the user's personal notes and documents.",
		Category:    models.ToolBuiltin,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"limit": {"type": "integer", "description": "Maximum results, default 5"}
			},
			"required": ["query"]
		}`),
		Execute: func(ctx context.Context, userID string, args map[string]any) (string, error) {
			query := argString(args, "query")
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			results, err := client.Search(ctx, query, argInt(args, "limit", 5))
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No matching notes found.", nil
			}

			var b strings.Builder
			for i, res := range results {
				fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, res.File, res.Entry)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})
}

// RegisterNoteToSelfSkill adds the note_to_self skill, which appends a line
// to the user's inbox note in the brain folder. Skill tools are invoked via
// chat commands, never by the model.
func RegisterNoteToSelfSkill(r *Registry, brainFolder string) error {
	return r.Register(Tool{
		Name:        "note_to_self",
		Description: "Append a note to your inbox file in the brain folder.",
		Category:    models.ToolSkill,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "The note text"}
			},
			"required": ["text"]
		}`),
		Execute: func(ctx context.Context, userID string, args map[string]any) (string, error) {
			text := argString(args, "text")
			if text == "" {
				return "", fmt.Errorf("text is required")
			}

			path := filepath.Join(brainFolder, "users", userID, "inbox.md")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return "", err
			}
			defer f.Close()

			line := fmt.Sprintf("- %s %s\n", time.Now().Format("2006-01-02 15:04"), text)
			if _, err := f.WriteString(line); err != nil {
				return "", err
			}
			return "Noted.", nil
		},
	})
}
