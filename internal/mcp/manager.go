package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// Manager holds the client connections for every configured server and
// routes namespaced tool calls to the right one.
type Manager struct {
	servers []*ServerConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewManager(servers []*ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		servers: servers,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// Start connects every configured server. A server that fails to connect is
// logged and skipped so the rest still come up.
func (m *Manager) Start(ctx context.Context) error {
	for _, cfg := range m.servers {
		if err := m.Connect(ctx, cfg.ID); err != nil {
			m.logger.Error("mcp server connect failed", "server", cfg.ID, "error", err)
		}
	}
	return nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("mcp client close failed", "server", id, "error", err)
		}
		delete(m.clients, id)
	}
	return nil
}

// Connect connects one server by ID; connecting an already-connected server
// is a no-op.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	var cfg *ServerConfig
	for _, c := range m.servers {
		if c.ID == serverID {
			cfg = c
			break
		}
	}
	if cfg == nil {
		return fmt.Errorf("mcp: server %q not configured", serverID)
	}

	m.mu.RLock()
	_, exists := m.clients[serverID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client, err := NewClient(cfg, m.logger)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[serverID] = client
	m.mu.Unlock()
	return nil
}

func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, exists := m.clients[serverID]
	if !exists {
		return nil
	}
	if err := client.Close(); err != nil {
		return err
	}
	delete(m.clients, serverID)
	return nil
}

func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return client, exists
}

// Definitions aggregates the namespaced tool definitions of every connected
// server.
func (m *Manager) Definitions() []models.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var defs []models.ToolDefinition
	for _, client := range m.clients {
		defs = append(defs, client.Definitions()...)
	}
	return defs
}

// CallTool resolves a namespaced tool name (with or without the mcp: prefix)
// to the server that advertises it and invokes it there.
func (m *Manager) CallTool(ctx context.Context, name string, arguments []byte) (string, error) {
	bare := strings.TrimPrefix(name, "mcp:")

	m.mu.RLock()
	var target *Client
	for _, client := range m.clients {
		for _, tool := range client.Tools() {
			if tool.Name == bare {
				target = client
				break
			}
		}
		if target != nil {
			break
		}
	}
	m.mu.RUnlock()

	if target == nil {
		return "", fmt.Errorf("mcp: no connected server advertises tool %q", bare)
	}
	return target.CallTool(ctx, bare, arguments)
}

// ServerStatus summarises one configured server for the status surfaces.
type ServerStatus struct {
	ID        string     `json:"id"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
}

func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, cfg := range m.servers {
		status := ServerStatus{ID: cfg.ID}
		if client, exists := m.clients[cfg.ID]; exists {
			status.Connected = client.Connected()
			status.Server = client.ServerInfo()
			status.Tools = len(client.Tools())
		}
		statuses = append(statuses, status)
	}
	return statuses
}
