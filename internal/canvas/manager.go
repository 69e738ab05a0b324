package canvas

import (
	"sync"
	"time"
)

// StreamEvent is a board event stamped with its session for subscribers.
type StreamEvent struct {
	SessionID string    `json:"session_id"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"ts"`
}

// Manager owns one board per session and fans change events out to
// realtime subscribers.
type Manager struct {
	maxNodes int

	mu          sync.RWMutex
	boards      map[string]*Board
	subscribers map[string]map[chan StreamEvent]struct{}
}

func NewManager(maxNodes int) *Manager {
	return &Manager{
		maxNodes:    maxNodes,
		boards:      make(map[string]*Board),
		subscribers: make(map[string]map[chan StreamEvent]struct{}),
	}
}

// Board returns the session's board, creating it on first use.
func (m *Manager) Board(sessionID string) *Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, exists := m.boards[sessionID]
	if !exists {
		board = NewBoard(m.maxNodes, func(ev Event) {
			m.broadcast(sessionID, ev)
		})
		m.boards[sessionID] = board
	}
	return board
}

// Drop discards a session's board state.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, sessionID)
}

// Subscribe registers a change listener for one session. Slow subscribers
// drop events rather than block mutations.
func (m *Manager) Subscribe(sessionID string) (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, 16)
	m.mu.Lock()
	listeners := m.subscribers[sessionID]
	if listeners == nil {
		listeners = make(map[chan StreamEvent]struct{})
		m.subscribers[sessionID] = listeners
	}
	listeners[ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		listeners := m.subscribers[sessionID]
		if listeners != nil {
			delete(listeners, ch)
			if len(listeners) == 0 {
				delete(m.subscribers, sessionID)
			}
		}
		m.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

func (m *Manager) broadcast(sessionID string, ev Event) {
	msg := StreamEvent{SessionID: sessionID, Event: ev, Timestamp: time.Now()}
	m.mu.RLock()
	for ch := range m.subscribers[sessionID] {
		select {
		case ch <- msg:
		default:
		}
	}
	m.mu.RUnlock()
}
