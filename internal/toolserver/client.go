package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/earchibald/home-brain-sub000/internal/config"
)

// Client speaks the tool protocol to a single server over a transport.
type Client struct {
	cfg       config.ToolServerConfig
	transport Transport
	logger    *slog.Logger

	serverName    string
	serverVersion string
}

// NewClient creates a client for the configured server.
func NewClient(cfg config.ToolServerConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With("tool_server", cfg.Name),
	}, nil
}

// Connect establishes the transport and runs the protocol handshake:
// initialize, then the initialized notification.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "homebrain",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.serverName = init.ServerInfo.Name
	c.serverVersion = init.ServerInfo.Version

	c.logger.Info("connected to tool server",
		"name", c.serverName,
		"version", c.serverVersion,
		"protocol", init.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}
	return nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Connected reports whether the underlying transport is usable.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDef, error) {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return resp.Tools, nil
}

// CallTool invokes a tool on the server. A result with IsError set is a
// tool-level failure and is returned without a Go error; transport and
// protocol failures return an error.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallResult, error) {
	params := callToolParams{Name: name}
	if arguments != nil {
		argsJSON, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = argsJSON
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult CallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
