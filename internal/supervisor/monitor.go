// Package supervisor watches long-running children: heartbeat health
// tracking plus crash-restart policy with backoff.
package supervisor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/internal/config"
)

// nowFunc allows tests to control time.
var nowFunc = time.Now

// SetNowFunc overrides the clock. Pass nil to restore the real clock.
func SetNowFunc(fn func() time.Time) {
	if fn == nil {
		nowFunc = time.Now
		return
	}
	nowFunc = fn
}

// EventType classifies monitor events.
type EventType string

const (
	EventHealthy   EventType = "healthy"
	EventUnhealthy EventType = "unhealthy"
	EventCrashed   EventType = "crashed"
	EventRestarted EventType = "restarted"
)

// Event is emitted on child health transitions.
type Event struct {
	Type        EventType `json:"type"`
	ChildID     string    `json:"child_id"`
	MissedCount int       `json:"missed_count,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventFunc receives monitor events. Called synchronously; keep it cheap.
type EventFunc func(Event)

// Crash records one child failure.
type Crash struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

type childHealth struct {
	lastHeartbeat time.Time
	missedCount   int
	healthy       bool
	crashHistory  []Crash
}

// ChildStatus is the read-only view of one child's health.
type ChildStatus struct {
	ChildID       string    `json:"child_id"`
	Healthy       bool      `json:"healthy"`
	MissedCount   int       `json:"missed_count"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Crashes       int       `json:"crashes"`
}

// Monitor tracks heartbeats for named children and flags the ones that
// go quiet.
type Monitor struct {
	interval  time.Duration
	threshold int
	onEvent   EventFunc
	logger    *slog.Logger

	mu       sync.Mutex
	children map[string]*childHealth
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewMonitor builds a monitor from the supervisor configuration.
func NewMonitor(cfg config.SupervisorConfig, onEvent EventFunc, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	threshold := cfg.MissedThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &Monitor{
		interval:  interval,
		threshold: threshold,
		onEvent:   onEvent,
		logger:    logger.With("component", "health"),
		children:  make(map[string]*childHealth),
	}
}

// Register starts tracking a child, initially healthy.
func (m *Monitor) Register(childID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.children[childID]; ok {
		return
	}
	m.children[childID] = &childHealth{lastHeartbeat: nowFunc(), healthy: true}
}

// Deregister stops tracking a child.
func (m *Monitor) Deregister(childID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.children, childID)
}

// Heartbeat records liveness. A heartbeat from an unhealthy child restores
// it and emits healthy.
func (m *Monitor) Heartbeat(childID string) {
	m.mu.Lock()
	child, ok := m.children[childID]
	if !ok {
		m.mu.Unlock()
		return
	}
	child.lastHeartbeat = nowFunc()
	child.missedCount = 0
	restored := !child.healthy
	child.healthy = true
	m.mu.Unlock()

	if restored {
		m.emit(Event{Type: EventHealthy, ChildID: childID})
	}
}

// Check runs one pass of the missed-heartbeat scan. The Start loop calls
// this every interval; tests call it directly.
func (m *Monitor) Check() {
	now := nowFunc()

	type flagged struct {
		id     string
		missed int
	}
	var unhealthy []flagged

	m.mu.Lock()
	for id, child := range m.children {
		if now.Sub(child.lastHeartbeat) <= m.interval {
			continue
		}
		child.missedCount++
		if child.missedCount >= m.threshold && child.healthy {
			child.healthy = false
			unhealthy = append(unhealthy, flagged{id: id, missed: child.missedCount})
		}
	}
	m.mu.Unlock()

	for _, f := range unhealthy {
		m.logger.Warn("child unhealthy", "child", f.id, "missed", f.missed)
		m.emit(Event{Type: EventUnhealthy, ChildID: f.id, MissedCount: f.missed})
	}
}

// RecordCrash appends to the child's crash history and marks it unhealthy.
// Unregistered children are registered on the fly so exits racing
// deregistration still record.
func (m *Monitor) RecordCrash(childID string, reason error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}

	m.mu.Lock()
	child, ok := m.children[childID]
	if !ok {
		child = &childHealth{lastHeartbeat: nowFunc()}
		m.children[childID] = child
	}
	child.healthy = false
	child.crashHistory = append(child.crashHistory, Crash{At: nowFunc(), Reason: msg})
	m.mu.Unlock()

	m.logger.Error("child crashed", "child", childID, "reason", msg)
	m.emit(Event{Type: EventCrashed, ChildID: childID, Error: msg})
}

// RecordRestart resets the child's health state and emits restarted.
func (m *Monitor) RecordRestart(childID string) {
	m.mu.Lock()
	child, ok := m.children[childID]
	if !ok {
		child = &childHealth{}
		m.children[childID] = child
	}
	child.lastHeartbeat = nowFunc()
	child.missedCount = 0
	child.healthy = true
	m.mu.Unlock()

	m.logger.Info("child restarted", "child", childID)
	m.emit(Event{Type: EventRestarted, ChildID: childID})
}

// OverallHealth is the AND of all registered children's healthy flags.
func (m *Monitor) OverallHealth() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, child := range m.children {
		if !child.healthy {
			return false
		}
	}
	return true
}

// Status returns per-child health sorted by child id.
func (m *Monitor) Status() []ChildStatus {
	m.mu.Lock()
	out := make([]ChildStatus, 0, len(m.children))
	for id, child := range m.children {
		out = append(out, ChildStatus{
			ChildID:       id,
			Healthy:       child.healthy,
			MissedCount:   child.missedCount,
			LastHeartbeat: child.lastHeartbeat,
			Crashes:       len(child.crashHistory),
		})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChildID < out[j].ChildID })
	return out
}

// Start launches the periodic check loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		defer close(m.doneCh)
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Stop halts the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()
	<-done
}

func (m *Monitor) emit(e Event) {
	if m.onEvent == nil {
		return
	}
	e.Timestamp = nowFunc()
	m.onEvent(e)
}
