package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/backoff"
	"github.com/switchyard-ai/switchyard/internal/config"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) byType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testMonitorConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		HeartbeatInterval: 100 * time.Millisecond,
		MissedThreshold:   3,
	}
}

func TestMonitorMarksQuietChildUnhealthy(t *testing.T) {
	rec := &eventRecorder{}
	m := NewMonitor(testMonitorConfig(), rec.record, nil)

	base := time.Now()
	SetNowFunc(func() time.Time { return base })
	defer SetNowFunc(nil)

	m.Register("sessions")
	m.Register("pool")

	// one interval elapsed, below threshold
	SetNowFunc(func() time.Time { return base.Add(150 * time.Millisecond) })
	m.Check()
	m.Check()
	if !m.OverallHealth() {
		t.Fatal("unhealthy before threshold")
	}
	if got := rec.byType(EventUnhealthy); len(got) != 0 {
		t.Fatalf("premature unhealthy events: %v", got)
	}

	// third miss crosses the threshold for both children
	m.Check()
	if m.OverallHealth() {
		t.Fatal("still healthy past threshold")
	}
	if got := rec.byType(EventUnhealthy); len(got) != 2 {
		t.Fatalf("unhealthy events = %d, want 2", len(got))
	}
	// unhealthy is edge-triggered, not repeated
	m.Check()
	if got := rec.byType(EventUnhealthy); len(got) != 2 {
		t.Fatalf("unhealthy re-emitted: %d events", len(got))
	}
}

func TestMonitorHeartbeatRestoresHealth(t *testing.T) {
	rec := &eventRecorder{}
	m := NewMonitor(testMonitorConfig(), rec.record, nil)

	base := time.Now()
	SetNowFunc(func() time.Time { return base })
	defer SetNowFunc(nil)

	m.Register("sessions")
	SetNowFunc(func() time.Time { return base.Add(time.Second) })
	for i := 0; i < 3; i++ {
		m.Check()
	}
	if m.OverallHealth() {
		t.Fatal("child not marked unhealthy")
	}

	m.Heartbeat("sessions")
	if !m.OverallHealth() {
		t.Fatal("heartbeat did not restore health")
	}
	if got := rec.byType(EventHealthy); len(got) != 1 || got[0].ChildID != "sessions" {
		t.Fatalf("healthy events = %v", got)
	}
	// a healthy child's heartbeat does not re-emit
	m.Heartbeat("sessions")
	if got := rec.byType(EventHealthy); len(got) != 1 {
		t.Fatalf("healthy re-emitted: %d events", len(got))
	}
}

func TestRecordCrashToleratesUnregistered(t *testing.T) {
	rec := &eventRecorder{}
	m := NewMonitor(testMonitorConfig(), rec.record, nil)

	m.RecordCrash("ghost", errors.New("exit 1"))
	if m.OverallHealth() {
		t.Fatal("crashed child counted healthy")
	}
	crashed := rec.byType(EventCrashed)
	if len(crashed) != 1 || crashed[0].ChildID != "ghost" || crashed[0].Error != "exit 1" {
		t.Fatalf("crashed events = %v", crashed)
	}

	status := m.Status()
	if len(status) != 1 || status[0].Crashes != 1 || status[0].Healthy {
		t.Fatalf("status = %+v", status)
	}

	m.RecordRestart("ghost")
	if !m.OverallHealth() {
		t.Fatal("restart did not reset health")
	}
	if got := rec.byType(EventRestarted); len(got) != 1 {
		t.Fatalf("restarted events = %v", got)
	}
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
}

func TestSupervisorRestartsCrashingChild(t *testing.T) {
	rec := &eventRecorder{}
	m := NewMonitor(testMonitorConfig(), rec.record, nil)
	s := New(config.SupervisorConfig{MaxRestarts: 10, RestartWindow: time.Minute}, m, nil)
	s.SetPolicy(fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	runs := 0
	ran := make(chan struct{}, 8)
	err := s.Add("flaky", func(ctx context.Context) error {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		ran <- struct{}{}
		if n < 3 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("child not restarted, %d runs", i)
		}
	}
	cancel()
	s.Wait()

	if got := rec.byType(EventCrashed); len(got) != 2 {
		t.Errorf("crashed events = %d, want 2", len(got))
	}
	if got := rec.byType(EventRestarted); len(got) != 2 {
		t.Errorf("restarted events = %d, want 2", len(got))
	}
}

func TestSupervisorRestartBudget(t *testing.T) {
	rec := &eventRecorder{}
	m := NewMonitor(testMonitorConfig(), rec.record, nil)
	s := New(config.SupervisorConfig{MaxRestarts: 2, RestartWindow: time.Hour}, m, nil)
	s.SetPolicy(fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Add("looper", func(context.Context) error {
		return errors.New("always crashes")
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(ctx)

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not abandon the crash-looping child")
	}

	// initial run + 2 restarts = 3 crashes
	if got := rec.byType(EventCrashed); len(got) != 3 {
		t.Errorf("crashed events = %d, want 3", len(got))
	}
	if got := rec.byType(EventRestarted); len(got) != 2 {
		t.Errorf("restarted events = %d, want 2", len(got))
	}
	if m.OverallHealth() {
		t.Error("abandoned child still counted healthy")
	}
}

func TestSupervisorRecoversPanic(t *testing.T) {
	rec := &eventRecorder{}
	m := NewMonitor(testMonitorConfig(), rec.record, nil)
	s := New(config.SupervisorConfig{MaxRestarts: 1, RestartWindow: time.Hour}, m, nil)
	s.SetPolicy(fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Add("panicky", func(context.Context) error {
		panic("oops")
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(ctx)
	s.Wait()

	crashed := rec.byType(EventCrashed)
	if len(crashed) == 0 {
		t.Fatal("panic not recorded as crash")
	}
	for _, e := range crashed {
		if e.Error == "" {
			t.Errorf("crash without reason: %+v", e)
		}
	}
}

func TestAddAfterStart(t *testing.T) {
	m := NewMonitor(testMonitorConfig(), nil, nil)
	s := New(config.SupervisorConfig{}, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Wait() }()

	if err := s.Add("late", func(ctx context.Context) error { <-ctx.Done(); return nil }); err == nil {
		t.Error("adding a child after start succeeded")
	}
}
