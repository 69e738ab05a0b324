// Package sessions manages the lifecycle of conversational agent sessions:
// the per-context state machine, steering queues, and the registry with
// idle eviction.
package sessions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// State is a session lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrInvalidTransition is wrapped by all refused state changes.
var ErrInvalidTransition = errors.New("sessions: invalid state transition")

// SteeringKind classifies mid-run steering messages.
type SteeringKind string

const (
	SteerInject   SteeringKind = "inject"
	SteerReminder SteeringKind = "reminder"
	SteerAbort    SteeringKind = "abort"
)

// SteeringMessage is consumed by the engine exactly once, between turns.
type SteeringMessage struct {
	Kind      SteeringKind `json:"kind"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
}

// Stats counts session activity. Counters only grow.
type Stats struct {
	Iterations      int      `json:"iterations"`
	ToolInvocations int      `json:"tool_invocations"`
	LLMCalls        int      `json:"llm_calls"`
	Errors          []string `json:"errors,omitempty"`
}

// Config is the per-session agent configuration.
type Config struct {
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Autonomy     string `json:"autonomy"`
	SystemPrompt string `json:"system_prompt"`
}

// Session couples one conversation context to its message log, steering
// queue, and stats. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id         string
	contextKey string
	channelID  string
	userID     string

	state        State
	config       Config
	messages     []models.Message
	steering     []SteeringMessage
	stats        Stats
	createdAt    time.Time
	lastActiveAt time.Time
	endedAt      time.Time

	// cancelRun aborts the in-flight run, if any.
	cancelRun func()
}

// ContextKey builds the registry key "channelId:userId[:groupId]".
func ContextKey(channelID, userID, groupID string) string {
	key := channelID + ":" + userID
	if groupID != "" {
		key += ":" + groupID
	}
	return key
}

// NewSession creates a session in the created state.
func NewSession(contextKey string, cfg Config) *Session {
	now := nowFunc()
	parts := strings.SplitN(contextKey, ":", 3)
	s := &Session{
		id:           uuid.NewString(),
		contextKey:   contextKey,
		state:        StateCreated,
		config:       cfg,
		createdAt:    now,
		lastActiveAt: now,
	}
	if len(parts) > 0 {
		s.channelID = parts[0]
	}
	if len(parts) > 1 {
		s.userID = parts[1]
	}
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) ContextKey() string { return s.contextKey }
func (s *Session) ChannelID() string  { return s.channelID }
func (s *Session) UserID() string     { return s.userID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Activate moves created or paused sessions to active.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateActive
	s.lastActiveAt = nowFunc()
	return nil
}

// Pause is only valid from active.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.state)
	}
	s.state = StatePaused
	return nil
}

// Resume is only valid from paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateActive
	s.lastActiveAt = nowFunc()
	return nil
}

// Complete is terminal and forbidden from created.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCreated || s.state.Terminal() {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, s.state)
	}
	s.terminate(StateCompleted)
	return nil
}

// Fail is terminal and allowed from any non-terminal state.
func (s *Session) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, s.state)
	}
	if err != nil {
		s.stats.Errors = append(s.stats.Errors, err.Error())
	}
	s.terminate(StateFailed)
	return nil
}

// terminate stamps endedAt and clears the steering queue. Callers hold mu.
func (s *Session) terminate(state State) {
	s.state = state
	s.endedAt = nowFunc()
	s.steering = nil
}

// Dispose clears conversation context, retaining only the system prompt.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.steering = nil
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = nowFunc()
}

func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// AppendMessages extends the session's message log.
func (s *Session) AppendMessages(msgs ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Steer enqueues a steering message. Terminal sessions refuse steering.
func (s *Session) Steer(msg SteeringMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = nowFunc()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("sessions: cannot steer %s session", s.state)
	}
	s.steering = append(s.steering, msg)
	return nil
}

// DrainSteering removes and returns all queued steering messages in FIFO
// order. Each message is delivered exactly once.
func (s *Session) DrainSteering() []SteeringMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.steering
	s.steering = nil
	return drained
}

// SteeringDepth returns the current queue length.
func (s *Session) SteeringDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steering)
}

// SetCancel installs the in-flight run's cancel function.
func (s *Session) SetCancel(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRun = cancel
}

// CancelRun aborts the in-flight run, if any.
func (s *Session) CancelRun() {
	s.mu.Lock()
	cancel := s.cancelRun
	s.cancelRun = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) RecordIteration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Iterations++
}

func (s *Session) RecordToolInvocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ToolInvocations++
}

func (s *Session) RecordLLMCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LLMCalls++
}

func (s *Session) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Errors = append(s.stats.Errors, err.Error())
}

// Stats returns a copy of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Errors = append([]string(nil), s.stats.Errors...)
	return out
}

// Summary is the read-only listing shape for the control plane.
type Summary struct {
	SessionID    string    `json:"sessionId"`
	ContextKey   string    `json:"contextKey"`
	ChannelID    string    `json:"channelId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Status       State     `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Summarize snapshots the session for listings.
func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		SessionID:    s.id,
		ContextKey:   s.contextKey,
		ChannelID:    s.channelID,
		UserID:       s.userID,
		Status:       s.state,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
	}
}
