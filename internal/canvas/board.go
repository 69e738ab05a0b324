// Package canvas holds the shared UI graph an agent renders into: component
// nodes placed on a board plus directed connections between them, mirrored
// to browser clients over the canvas channel.
package canvas

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

var (
	ErrNodeNotFound       = errors.New("canvas: node not found")
	ErrNodeExists         = errors.New("canvas: node already exists")
	ErrNodeLimit          = errors.New("canvas: node limit reached")
	ErrEndpointMissing    = errors.New("canvas: connection endpoint does not exist")
	ErrConnectionNotFound = errors.New("canvas: connection not found")
)

// DefaultMaxNodes caps the number of nodes on one board.
const DefaultMaxNodes = 200

// Event describes one board mutation for realtime mirroring.
type Event struct {
	Action       string                   `json:"action"` // add | update | move | remove | connect | disconnect | clear
	NodeID       string                   `json:"node_id,omitempty"`
	Node         *models.CanvasNode       `json:"node,omitempty"`
	ConnectionID string                   `json:"connection_id,omitempty"`
	Connection   *models.CanvasConnection `json:"connection,omitempty"`
}

// Board is the canvas state for one session. All mutations preserve the
// graph invariants: connections always reference existing nodes, removing a
// node cascades to its connections, and zIndex grows with insertion order.
type Board struct {
	mu       sync.RWMutex
	nodes    map[string]models.CanvasNode
	conns    map[string]models.CanvasConnection
	nextZ    int
	maxNodes int

	publish func(Event)
}

// NewBoard creates an empty board. maxNodes <= 0 uses DefaultMaxNodes.
// publish receives one event per committed mutation; nil disables mirroring.
func NewBoard(maxNodes int, publish func(Event)) *Board {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	if publish == nil {
		publish = func(Event) {}
	}
	return &Board{
		nodes:    make(map[string]models.CanvasNode),
		conns:    make(map[string]models.CanvasConnection),
		maxNodes: maxNodes,
		publish:  publish,
	}
}

// AddNode places a new component on the board and assigns the next zIndex.
func (b *Board) AddNode(component models.CanvasComponent, pos models.CanvasPosition) (*models.CanvasNode, error) {
	if component.ID == "" {
		return nil, fmt.Errorf("canvas: component id is required")
	}

	b.mu.Lock()
	if _, exists := b.nodes[component.ID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNodeExists, component.ID)
	}
	if len(b.nodes) >= b.maxNodes {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrNodeLimit, b.maxNodes)
	}
	b.nextZ++
	node := models.CanvasNode{Component: component, Position: pos, ZIndex: b.nextZ}
	b.nodes[component.ID] = node
	b.mu.Unlock()

	b.publish(Event{Action: "add", NodeID: component.ID, Node: &node})
	return &node, nil
}

// UpdateNode replaces the payload (and optionally the type) of a node.
func (b *Board) UpdateNode(id string, componentType string, payload map[string]any) (*models.CanvasNode, error) {
	b.mu.Lock()
	node, exists := b.nodes[id]
	if !exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if componentType != "" {
		node.Component.Type = componentType
	}
	if payload != nil {
		node.Component.Payload = payload
	}
	b.nodes[id] = node
	b.mu.Unlock()

	b.publish(Event{Action: "update", NodeID: id, Node: &node})
	return &node, nil
}

// MoveNode repositions a node without touching its zIndex.
func (b *Board) MoveNode(id string, pos models.CanvasPosition) (*models.CanvasNode, error) {
	b.mu.Lock()
	node, exists := b.nodes[id]
	if !exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.Position = pos
	b.nodes[id] = node
	b.mu.Unlock()

	b.publish(Event{Action: "move", NodeID: id, Node: &node})
	return &node, nil
}

// RemoveNode deletes a node and every connection touching it.
func (b *Board) RemoveNode(id string) error {
	b.mu.Lock()
	if _, exists := b.nodes[id]; !exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(b.nodes, id)
	var removed []string
	for connID, conn := range b.conns {
		if conn.FromID == id || conn.ToID == id {
			delete(b.conns, connID)
			removed = append(removed, connID)
		}
	}
	b.mu.Unlock()

	for _, connID := range removed {
		b.publish(Event{Action: "disconnect", ConnectionID: connID})
	}
	b.publish(Event{Action: "remove", NodeID: id})
	return nil
}

// Connect adds a directed edge between two existing nodes. An empty id gets
// a generated one.
func (b *Board) Connect(conn models.CanvasConnection) (*models.CanvasConnection, error) {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	b.mu.Lock()
	if _, ok := b.nodes[conn.FromID]; !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: from %s", ErrEndpointMissing, conn.FromID)
	}
	if _, ok := b.nodes[conn.ToID]; !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: to %s", ErrEndpointMissing, conn.ToID)
	}
	b.conns[conn.ID] = conn
	b.mu.Unlock()

	b.publish(Event{Action: "connect", ConnectionID: conn.ID, Connection: &conn})
	return &conn, nil
}

// Disconnect removes one connection.
func (b *Board) Disconnect(id string) error {
	b.mu.Lock()
	if _, exists := b.conns[id]; !exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	delete(b.conns, id)
	b.mu.Unlock()

	b.publish(Event{Action: "disconnect", ConnectionID: id})
	return nil
}

// Clear wipes all nodes and connections.
func (b *Board) Clear() {
	b.mu.Lock()
	b.nodes = make(map[string]models.CanvasNode)
	b.conns = make(map[string]models.CanvasConnection)
	b.mu.Unlock()

	b.publish(Event{Action: "clear"})
}

// NodeCount returns the current number of nodes.
func (b *Board) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

// Snapshot copies the full board state, nodes ordered by zIndex and
// connections by id, for clients joining late.
func (b *Board) Snapshot() models.CanvasSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := models.CanvasSnapshot{
		Nodes:       make([]models.CanvasNode, 0, len(b.nodes)),
		Connections: make([]models.CanvasConnection, 0, len(b.conns)),
	}
	for _, node := range b.nodes {
		snap.Nodes = append(snap.Nodes, node)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool {
		return snap.Nodes[i].ZIndex < snap.Nodes[j].ZIndex
	})
	for _, conn := range b.conns {
		snap.Connections = append(snap.Connections, conn)
	}
	sort.Slice(snap.Connections, func(i, j int) bool {
		return snap.Connections[i].ID < snap.Connections[j].ID
	})
	return snap
}
