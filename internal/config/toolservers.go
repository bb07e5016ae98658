package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/earchibald/home-brain-sub000/internal/secrets"
)

// ToolServerTransport selects the tool-server protocol transport.
type ToolServerTransport string

const (
	TransportPipe ToolServerTransport = "pipe"
	TransportSSE  ToolServerTransport = "http-sse"
)

// ToolServerConfig describes one external tool server.
type ToolServerConfig struct {
	Name      string              `json:"name"`
	Transport ToolServerTransport `json:"transport"`

	// Pipe transport
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP/SSE transport
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

// Validate checks a tool-server entry for obvious misconfiguration.
func (c *ToolServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("tool server name is required")
	}
	switch c.Transport {
	case TransportPipe:
		if c.Command == "" {
			return fmt.Errorf("tool server %s: command is required for pipe transport", c.Name)
		}
	case TransportSSE:
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return fmt.Errorf("tool server %s: url must start with http:// or https://", c.Name)
		}
	default:
		return fmt.Errorf("tool server %s: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

type toolServerFile struct {
	Servers []*ToolServerConfig `json:"servers"`
}

// LoadToolServers reads the base config file and applies the machine-local
// overlay (same path with a ".local.json" suffix) when present. Entries in
// the overlay replace base entries with the same name. Values of the form
// "secret:NAME" in env and headers are resolved through the secret store.
func LoadToolServers(ctx context.Context, path string, store secrets.Store) ([]*ToolServerConfig, error) {
	base, err := readToolServerFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			base = nil
		} else {
			return nil, err
		}
	}

	localPath := strings.TrimSuffix(path, ".json") + ".local.json"
	overlay, err := readToolServerFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	byName := make(map[string]int, len(base))
	merged := make([]*ToolServerConfig, 0, len(base)+len(overlay))
	for _, sc := range base {
		byName[sc.Name] = len(merged)
		merged = append(merged, sc)
	}
	for _, sc := range overlay {
		if idx, ok := byName[sc.Name]; ok {
			merged[idx] = sc
			continue
		}
		byName[sc.Name] = len(merged)
		merged = append(merged, sc)
	}

	for _, sc := range merged {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if store == nil {
			continue
		}
		if err := secrets.ResolveMap(ctx, store, sc.Env); err != nil {
			return nil, fmt.Errorf("tool server %s: %w", sc.Name, err)
		}
		if err := secrets.ResolveMap(ctx, store, sc.Headers); err != nil {
			return nil, fmt.Errorf("tool server %s: %w", sc.Name, err)
		}
	}

	return merged, nil
}

func readToolServerFile(path string) ([]*ToolServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file toolServerFile
	if err := json5.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Servers, nil
}
