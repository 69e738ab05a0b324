package sessions

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

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

// ConfigFactory builds the agent configuration for a new session keyed by
// its context key.
type ConfigFactory func(contextKey string) Config

// Manager owns the context-key registry of live sessions and runs the
// idle eviction sweep.
type Manager struct {
	cfg     config.SessionConfig
	factory ConfigFactory
	logger  *slog.Logger
	notes   *NotesStore

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*time.Timer

	cron *cron.Cron
}

// NewManager builds a manager. factory may be nil, in which case new
// sessions get a zero Config.
func NewManager(cfg config.SessionConfig, factory ConfigFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = func(string) Config { return Config{} }
	}
	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
		pending:  make(map[string]*time.Timer),
	}
	if cfg.NotesDir != "" {
		m.notes = NewNotesStore(cfg.NotesDir, m.logger)
	}
	return m
}

// Notes returns the disk notes store, or nil when none is configured.
func (m *Manager) Notes() *NotesStore { return m.notes }

// Start schedules the idle eviction sweep.
func (m *Manager) Start() error {
	spec := m.cfg.SweepSpec
	if spec == "" {
		spec = "@every 1m"
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(spec, m.Sweep); err != nil {
		return fmt.Errorf("sessions: schedule sweep %q: %w", spec, err)
	}
	m.cron.Start()
	m.logger.Info("session sweep scheduled", "spec", spec, "idle_ttl", m.cfg.IdleTTL)
	return nil
}

// Stop halts the sweep and any pending grace-period removals.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.mu.Lock()
	for key, timer := range m.pending {
		timer.Stop()
		delete(m.pending, key)
	}
	m.mu.Unlock()
}

// GetOrCreate returns the live session for key, creating one when absent.
// The second return reports whether the session was created by this call.
func (m *Manager) GetOrCreate(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s, false
	}
	s := NewSession(key, m.factory(key))
	m.sessions[key] = s
	m.logger.Info("session created", "context_key", key, "session_id", s.ID())
	return s, true
}

// Get returns the live session for key, or nil.
func (m *Manager) Get(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

// GetByID finds a session by its session ID.
func (m *Manager) GetByID(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID() == sessionID {
			return s
		}
	}
	return nil
}

// List returns summaries sorted by context key.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(live))
	for _, s := range live {
		out = append(out, s.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextKey < out[j].ContextKey })
	return out
}

// Touch refreshes a session's idle clock.
func (m *Manager) Touch(key string) {
	if s := m.Get(key); s != nil {
		s.Touch()
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// End cancels the session's in-flight run, moves it to a terminal state,
// and removes it from the registry after the grace period. The grace
// window lets late events resolve against the terminal session.
func (m *Manager) End(key string) error {
	s := m.Get(key)
	if s == nil {
		return fmt.Errorf("sessions: no session for %q", key)
	}
	m.end(s)
	return nil
}

func (m *Manager) end(s *Session) {
	s.CancelRun()
	if err := s.Complete(); err != nil {
		// created or already terminal; force failed only from created
		if s.State() == StateCreated {
			_ = s.Fail(nil)
		}
	}

	key := s.ContextKey()
	grace := m.cfg.GracePeriod
	if grace <= 0 {
		m.remove(key)
		return
	}

	m.mu.Lock()
	if _, scheduled := m.pending[key]; !scheduled {
		m.pending[key] = time.AfterFunc(grace, func() { m.remove(key) })
	}
	m.mu.Unlock()
}

func (m *Manager) remove(key string) {
	m.mu.Lock()
	if timer, ok := m.pending[key]; ok {
		timer.Stop()
		delete(m.pending, key)
	}
	s := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if s != nil {
		s.Dispose()
		m.logger.Info("session removed", "context_key", key, "session_id", s.ID())
	}
}

// Sweep ends sessions idle beyond the TTL. Terminal sessions awaiting
// grace removal are left to their timers.
func (m *Manager) Sweep() {
	ttl := m.cfg.IdleTTL
	if ttl <= 0 {
		return
	}
	now := nowFunc()

	m.mu.Lock()
	expired := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.State().Terminal() {
			continue
		}
		if now.Sub(s.LastActiveAt()) >= ttl {
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.logger.Info("session idle, ending",
			"context_key", s.ContextKey(),
			"idle", now.Sub(s.LastActiveAt()).Round(time.Second))
		m.end(s)
	}
}
