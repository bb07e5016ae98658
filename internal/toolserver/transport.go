package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/earchibald/home-brain-sub000/internal/config"
)

// Transport carries JSON-RPC traffic to a single tool server.
type Transport interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error
	// Call sends a request and waits for its response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error
	// Connected reports whether the transport is usable.
	Connected() bool
	// Close tears the connection down.
	Close() error
}

// NewTransport builds the transport named by the server configuration.
func NewTransport(cfg config.ToolServerConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportPipe:
		return NewPipeTransport(cfg), nil
	case config.TransportSSE:
		return NewSSETransport(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q for server %s", cfg.Transport, cfg.Name)
	}
}
