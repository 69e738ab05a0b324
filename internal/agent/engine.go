// Package agent drives the provider/tool iteration loop and exposes each
// run as an ordered event stream with steering, cancellation, and resume.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/internal/providers"
	"github.com/switchyard-ai/switchyard/internal/security"
	"github.com/switchyard-ai/switchyard/internal/sessions"
	"github.com/switchyard-ai/switchyard/internal/tools"
	"github.com/switchyard-ai/switchyard/internal/workerpool"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

var (
	ErrNoProvider    = errors.New("agent: no provider configured")
	ErrMaxIterations = errors.New("agent: reached max iterations")
)

// Options configures an Engine.
type Options struct {
	Provider providers.Provider
	Registry *tools.Registry
	// Pool receives heavyweight tool dispatch. Nil executes everything
	// in-process.
	Pool   *workerpool.Pool
	Logger *slog.Logger

	// MaxIterations bounds provider/tool round trips per run. Default 10.
	MaxIterations int
	// MaxTokens is the per-turn generation budget. Default 4096.
	MaxTokens int
	// EventBuffer sizes each run's event channel. Default 64.
	EventBuffer int
}

// Engine runs agentic conversations. One engine serves many concurrent
// runs; each run owns its own event stream.
type Engine struct {
	id       string
	provider providers.Provider
	registry *tools.Registry
	pool     *workerpool.Pool
	logger   *slog.Logger

	maxIterations int
	maxTokens     int
	eventBuffer   int
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Engine{
		id:            uuid.NewString(),
		provider:      opts.Provider,
		registry:      opts.Registry,
		pool:          opts.Pool,
		logger:        opts.Logger.With("component", "engine"),
		maxIterations: opts.MaxIterations,
		maxTokens:     opts.MaxTokens,
		eventBuffer:   opts.EventBuffer,
	}, nil
}

// ID identifies the engine for resume-token validation.
func (e *Engine) ID() string { return e.id }

// Job is the starting state of one run.
type Job struct {
	SessionID    string
	Messages     []models.Message
	Tools        []models.ToolDefinition
	SystemPrompt string
	Model        string
	MaxTokens    int
}

// RunOpts carries per-run collaborators.
type RunOpts struct {
	// Session, when set, supplies the steering queue and receives stats.
	Session *sessions.Session
	// ToolContext is the template for tool execution: cwd, policy, and
	// optional backends. Never mutated.
	ToolContext *tools.Context
	// Confirm resolves confirmation-gated actions. Nil denies them.
	Confirm func(security.Action) bool
}

// RunHandle is the caller's grip on a live run. Events is closed after the
// terminal completed or error event.
type RunHandle struct {
	Ref    string
	Events <-chan models.RunEvent

	cancel context.CancelFunc
	steer  func(sessions.SteeringMessage) error
}

// Cancel aborts the run. The in-flight provider stream and tool
// invocations see the abort; the stream ends with a cancellation error.
func (h *RunHandle) Cancel() { h.cancel() }

// Steer enqueues a steering message, applied at the next turn boundary.
func (h *RunHandle) Steer(msg sessions.SteeringMessage) error { return h.steer(msg) }

// localQueue backs steering for sessionless runs.
type localQueue struct {
	mu   sync.Mutex
	msgs []sessions.SteeringMessage
}

func (q *localQueue) steer(msg sessions.SteeringMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *localQueue) drain() []sessions.SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.msgs
	q.msgs = nil
	return drained
}

// StartRun launches a run and returns its handle. The first event is
// always started carrying the resume token for the job's initial state.
func (e *Engine) StartRun(ctx context.Context, job *Job, opts *RunOpts) (*RunHandle, error) {
	if job == nil {
		return nil, errors.New("agent: nil job")
	}
	if job.Model == "" {
		return nil, errors.New("agent: job without model")
	}
	if opts == nil {
		opts = &RunOpts{}
	}
	if len(job.Tools) == 0 {
		job.Tools = e.registry.Definitions()
	}

	ref := uuid.NewString()
	token, err := encodeToken(&resumeState{
		EngineID:     e.id,
		Ref:          ref,
		SessionID:    job.SessionID,
		Model:        job.Model,
		SystemPrompt: job.SystemPrompt,
		MaxTokens:    job.MaxTokens,
		Messages:     job.Messages,
		Tools:        job.Tools,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	em := newEmitter(ref, e.eventBuffer)

	drain := func() []sessions.SteeringMessage { return nil }
	steer := func(msg sessions.SteeringMessage) error {
		return fmt.Errorf("agent: run %s does not accept steering", ref)
	}
	if opts.Session != nil {
		drain = opts.Session.DrainSteering
		steer = opts.Session.Steer
	} else {
		q := &localQueue{}
		drain = q.drain
		steer = q.steer
	}

	go e.run(runCtx, cancel, job, opts, em, token, drain)

	return &RunHandle{Ref: ref, Events: em.events, cancel: cancel, steer: steer}, nil
}

// Resume validates the token's engine identity, appends prompt as a user
// message, and starts a fresh run from the snapshotted state.
func (e *Engine) Resume(ctx context.Context, token, prompt string, opts *RunOpts) (*RunHandle, error) {
	st, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	if st.EngineID != e.id {
		return nil, ErrForeignToken
	}

	messages := append([]models.Message{}, st.Messages...)
	if prompt != "" {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: prompt})
	}
	return e.StartRun(ctx, &Job{
		SessionID:    st.SessionID,
		Messages:     messages,
		Tools:        st.Tools,
		SystemPrompt: st.SystemPrompt,
		Model:        st.Model,
		MaxTokens:    st.MaxTokens,
	}, opts)
}
