package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/config"
	"github.com/earchibald/home-brain-sub000/internal/retry"
	"github.com/earchibald/home-brain-sub000/internal/tools"
)

const healthInterval = 30 * time.Second

// Manager connects every enabled tool server, registers their tools with the
// registry, and reconnects dropped servers in the background.
type Manager struct {
	registry *tools.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	configs map[string]config.ToolServerConfig

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a manager registering into the given registry.
func NewManager(registry *tools.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		logger:   logger.With("component", "toolserver"),
		clients:  map[string]*Client{},
		configs:  map[string]config.ToolServerConfig{},
		stopChan: make(chan struct{}),
	}
}

// Start connects every enabled server. A server that fails to connect is
// logged and left to the background reconnect loop; Start itself only fails
// on invalid configuration.
func (m *Manager) Start(ctx context.Context, servers []*config.ToolServerConfig) error {
	for _, sc := range servers {
		if !sc.Enabled {
			m.logger.Debug("skipping disabled tool server", "server", sc.Name)
			continue
		}
		m.mu.Lock()
		m.configs[sc.Name] = *sc
		m.mu.Unlock()

		if err := m.connect(ctx, *sc); err != nil {
			m.logger.Warn("tool server connect failed, will retry", "server", sc.Name, "error", err)
		}
	}

	m.wg.Add(1)
	go m.healthLoop()
	return nil
}

// Stop disconnects every server.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.clients {
		c.Close()
		m.registry.UnregisterServer(name)
		delete(m.clients, name)
	}
}

// ConnectedServers lists the names of currently connected servers.
func (m *Manager) ConnectedServers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, c := range m.clients {
		if c.Connected() {
			out = append(out, name)
		}
	}
	return out
}

// connect dials one server with retry and registers its tools.
func (m *Manager) connect(ctx context.Context, sc config.ToolServerConfig) error {
	var client *Client
	result := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       2,
	}, func() error {
		c, err := NewClient(sc, m.logger)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := c.Connect(ctx); err != nil {
			return err
		}
		client = c
		return nil
	})
	if result.Err != nil {
		return result.Err
	}

	if err := m.registerTools(ctx, sc.Name, client); err != nil {
		client.Close()
		return err
	}

	m.mu.Lock()
	m.clients[sc.Name] = client
	m.mu.Unlock()
	return nil
}

// registerTools publishes the server's catalog into the registry.
func (m *Manager) registerTools(ctx context.Context, server string, client *Client) error {
	defs, err := client.ListTools(ctx)
	if err != nil {
		return err
	}

	m.registry.UnregisterServer(server)
	for _, def := range defs {
		def := def
		err := m.registry.RegisterRemote(server, tools.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  json.RawMessage(def.InputSchema),
			Execute: func(ctx context.Context, userID string, args map[string]any) (string, error) {
				res, err := client.CallTool(ctx, def.Name, args)
				if err != nil {
					return "", err
				}
				if res.IsError {
					return "", fmt.Errorf("%s", res.Text())
				}
				return res.Text(), nil
			},
		})
		if err != nil {
			m.logger.Warn("failed to register remote tool",
				"server", server, "tool", def.Name, "error", err)
		}
	}

	m.logger.Info("registered tool server", "server", server, "tools", len(defs))
	return nil
}

// healthLoop reconnects servers whose transports have dropped.
func (m *Manager) healthLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.reconnectDropped()
		}
	}
}

func (m *Manager) reconnectDropped() {
	m.mu.Lock()
	var dropped []config.ToolServerConfig
	for name, sc := range m.configs {
		c, ok := m.clients[name]
		if !ok || !c.Connected() {
			if ok {
				c.Close()
				delete(m.clients, name)
				m.registry.UnregisterServer(name)
			}
			dropped = append(dropped, sc)
		}
	}
	m.mu.Unlock()

	for _, sc := range dropped {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := m.connect(ctx, sc); err != nil {
			m.logger.Warn("tool server reconnect failed", "server", sc.Name, "error", err)
		} else {
			m.logger.Info("tool server reconnected", "server", sc.Name)
		}
		cancel()
	}
}
