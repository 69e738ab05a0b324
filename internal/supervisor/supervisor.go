package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/internal/backoff"
	"github.com/switchyard-ai/switchyard/internal/config"
)

// ChildFunc runs one supervised child until it exits. A nil return after
// context cancellation is a clean shutdown; anything else is a crash.
type ChildFunc func(ctx context.Context) error

type child struct {
	id       string
	run      ChildFunc
	restarts []time.Time
}

// Supervisor restarts crashed children with capped exponential backoff.
// A rolling window bounds restarts so a crash-looping child is abandoned
// rather than thrashed.
type Supervisor struct {
	cfg     config.SupervisorConfig
	monitor *Monitor
	policy  backoff.Policy
	logger  *slog.Logger

	mu       sync.Mutex
	children map[string]*child
	started  bool

	wg sync.WaitGroup
}

// New builds a supervisor over the given monitor.
func New(cfg config.SupervisorConfig, monitor *Monitor, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 5
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = 10 * time.Minute
	}
	return &Supervisor{
		cfg:      cfg,
		monitor:  monitor,
		policy:   backoff.SupervisorPolicy(),
		logger:   logger.With("component", "supervisor"),
		children: make(map[string]*child),
	}
}

// SetPolicy overrides the restart backoff, mainly for tests.
func (s *Supervisor) SetPolicy(p backoff.Policy) { s.policy = p }

// Add registers a child. Children must be added before Start.
func (s *Supervisor) Add(id string, run ChildFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor: cannot add %q after start", id)
	}
	if _, ok := s.children[id]; ok {
		return fmt.Errorf("supervisor: duplicate child %q", id)
	}
	s.children[id] = &child{id: id, run: run}
	return nil
}

// Start launches every registered child. It returns immediately; children
// run until ctx is cancelled or their restart budget is exhausted.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	children := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	for _, c := range children {
		s.monitor.Register(c.id)
		s.wg.Add(1)
		go s.supervise(ctx, c)
	}
}

// Wait blocks until all children have exited.
func (s *Supervisor) Wait() { s.wg.Wait() }

func (s *Supervisor) supervise(ctx context.Context, c *child) {
	defer s.wg.Done()

	attempt := 0
	for {
		err := runChild(ctx, c.run)
		if ctx.Err() != nil {
			return
		}

		s.monitor.RecordCrash(c.id, err)
		if !s.allowRestart(c) {
			s.logger.Error("restart budget exhausted, abandoning child",
				"child", c.id,
				"max_restarts", s.cfg.MaxRestarts,
				"window", s.cfg.RestartWindow)
			return
		}

		attempt++
		delay := s.policy.Delay(attempt)
		s.logger.Warn("restarting child", "child", c.id, "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		s.monitor.RecordRestart(c.id)
	}
}

// allowRestart prunes restarts outside the rolling window and checks the
// per-window budget.
func (s *Supervisor) allowRestart(c *child) bool {
	now := nowFunc()
	cutoff := now.Add(-s.cfg.RestartWindow)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := c.restarts[:0]
	for _, at := range c.restarts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	c.restarts = kept
	if len(c.restarts) >= s.cfg.MaxRestarts {
		return false
	}
	c.restarts = append(c.restarts, now)
	return true
}

// runChild converts panics into crash errors so one child cannot take the
// process down.
func runChild(ctx context.Context, run ChildFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor: child panic: %v", r)
		}
	}()
	if err := run(ctx); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return fmt.Errorf("supervisor: child exited unexpectedly")
	}
	return nil
}
