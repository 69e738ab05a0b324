package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/switchyard-ai/switchyard/internal/agent"
	"github.com/switchyard-ai/switchyard/internal/canvas"
	"github.com/switchyard-ai/switchyard/internal/channels"
	"github.com/switchyard-ai/switchyard/internal/security"
	"github.com/switchyard-ai/switchyard/internal/sessions"
	"github.com/switchyard-ai/switchyard/internal/tools"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

// Dispatcher routes normalized inbound messages to agent runs and runs'
// output back to the originating channel. One dispatcher serves all
// channels; sessions are keyed by the message context key.
type Dispatcher struct {
	engine   *agent.Engine
	sessions *sessions.Manager
	channels *channels.Registry
	canvas   *channels.CanvasChannel
	boards   *canvas.Manager

	toolTemplate *tools.Context
	confirm      func(security.Action) bool
	metrics      *Metrics
	defaultModel string
	systemPrompt string
	logger       *slog.Logger
}

type DispatcherOptions struct {
	Engine   *agent.Engine
	Sessions *sessions.Manager
	Channels *channels.Registry

	// Canvas, when set, mirrors run progress to attached canvas clients.
	Canvas *channels.CanvasChannel
	// Boards supplies per-session canvas state to the canvas_render tool.
	Boards *canvas.Manager

	// ToolContext is the template cloned for every run: cwd, policy, and
	// optional backends.
	ToolContext *tools.Context
	// Confirm resolves confirmation-gated tool actions. Nil denies them.
	Confirm func(security.Action) bool

	Metrics      *Metrics
	DefaultModel string
	SystemPrompt string
	Logger       *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Engine == nil {
		return nil, errors.New("gateway: engine is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("gateway: session manager is required")
	}
	if opts.Channels == nil {
		return nil, errors.New("gateway: channel registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine:       opts.Engine,
		sessions:     opts.Sessions,
		channels:     opts.Channels,
		canvas:       opts.Canvas,
		boards:       opts.Boards,
		toolTemplate: opts.ToolContext,
		confirm:      opts.Confirm,
		metrics:      opts.Metrics,
		defaultModel: opts.DefaultModel,
		systemPrompt: opts.SystemPrompt,
		logger:       logger.With("component", "dispatcher"),
	}, nil
}

// parseSteeringText recognizes the bracketed steering and abort prefixes
// channels encode UI control events with.
func parseSteeringText(text string) (sessions.SteeringKind, string, bool) {
	if strings.HasPrefix(text, "[ABORT]") {
		return sessions.SteerAbort, strings.TrimSpace(strings.TrimPrefix(text, "[ABORT]")), true
	}
	if strings.HasPrefix(text, "[STEER:") {
		end := strings.Index(text, "]")
		if end < 0 {
			return "", "", false
		}
		kind := sessions.SteeringKind(text[len("[STEER:"):end])
		switch kind {
		case sessions.SteerInject, sessions.SteerReminder, sessions.SteerAbort:
			return kind, strings.TrimSpace(text[end+1:]), true
		}
		return "", "", false
	}
	return "", "", false
}

// HandleInbound is the channel registry's message handler.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg *models.InboundMessage) {
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if d.metrics != nil {
		d.metrics.InboundMessages.WithLabelValues(msg.ChannelID).Inc()
	}
	key := msg.ContextKey()

	if kind, content, ok := parseSteeringText(msg.Text); ok {
		session := d.sessions.Get(key)
		if session == nil {
			d.logger.Debug("steering for unknown session", "context_key", key)
			return
		}
		if kind == sessions.SteerAbort {
			session.CancelRun()
			return
		}
		if err := session.Steer(sessions.SteeringMessage{Kind: kind, Content: content}); err != nil {
			d.logger.Warn("steering rejected", "context_key", key, "error", err)
		}
		return
	}

	session, created := d.sessions.GetOrCreate(key)
	if created {
		d.logger.Info("session created", "context_key", key, "session_id", session.ID())
		d.writeInitialNote(key, msg)
	}
	if notes := d.sessions.Notes(); notes != nil {
		if err := notes.RecordActivity(key, msg.Text); err != nil {
			d.logger.Warn("note write failed", "context_key", key, "error", err)
		}
	}

	// A message while a run is in flight becomes steering for the next
	// turn boundary rather than a competing run.
	if session.State() == sessions.StateActive {
		if err := session.Steer(sessions.SteeringMessage{Kind: sessions.SteerInject, Content: msg.Text}); err != nil {
			d.logger.Warn("mid-run injection failed", "context_key", key, "error", err)
		}
		session.Touch()
		return
	}

	d.startRun(ctx, session, msg)
}

func (d *Dispatcher) writeInitialNote(key string, msg *models.InboundMessage) {
	notes := d.sessions.Notes()
	if notes == nil {
		return
	}
	err := notes.Upsert(&sessions.Note{
		ContextKey: key,
		ChannelID:  msg.ChannelID,
		UserID:     msg.From.UserID,
		Request:    msg.Text,
		RequestAt:  time.Now(),
	})
	if err != nil {
		d.logger.Warn("initial note write failed", "context_key", key, "error", err)
	}
}

func (d *Dispatcher) startRun(ctx context.Context, session *sessions.Session, msg *models.InboundMessage) {
	session.AppendMessages(models.Message{
		Role:      models.RoleUser,
		Content:   msg.Text,
		CreatedAt: msg.Timestamp,
	})

	switch session.State() {
	case sessions.StateCreated:
		if err := session.Activate(); err != nil {
			d.logger.Error("activate failed", "session_id", session.ID(), "error", err)
			return
		}
	case sessions.StatePaused:
		if err := session.Resume(); err != nil {
			d.logger.Error("resume failed", "session_id", session.ID(), "error", err)
			return
		}
	default:
		d.logger.Warn("cannot run in state", "session_id", session.ID(), "state", session.State())
		return
	}

	cfg := session.Config()
	model := cfg.Model
	if model == "" {
		model = d.defaultModel
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = d.systemPrompt
	}

	job := &agent.Job{
		SessionID:    session.ID(),
		Messages:     session.Messages(),
		SystemPrompt: systemPrompt,
		Model:        model,
	}
	opts := &agent.RunOpts{
		Session:     session,
		ToolContext: d.toolContext(session),
		Confirm:     d.confirm,
	}

	// The run must outlive the inbound delivery: a closing websocket or a
	// stopping channel does not abort it.
	runCtx := context.WithoutCancel(ctx)
	handle, err := d.engine.StartRun(runCtx, job, opts)
	if err != nil {
		d.logger.Error("run start failed", "session_id", session.ID(), "error", err)
		session.RecordError(err)
		_ = session.Pause()
		d.deliver(runCtx, msg.ChannelID, replyRecipient(msg), "error: "+err.Error())
		return
	}
	session.SetCancel(handle.Cancel)
	if d.metrics != nil {
		d.metrics.RunsStarted.Inc()
	}

	go d.pump(runCtx, session, handle, msg.ChannelID, replyRecipient(msg))
}

// replyRecipient picks the channel-specific send target: the group when
// the message came from one, the user otherwise.
func replyRecipient(msg *models.InboundMessage) string {
	if msg.From.GroupID != "" {
		return msg.From.GroupID
	}
	return msg.From.UserID
}

func (d *Dispatcher) toolContext(session *sessions.Session) *tools.Context {
	tc := tools.Context{}
	if d.toolTemplate != nil {
		tc = *d.toolTemplate
	}
	tc.SessionID = session.ID()
	if d.boards != nil {
		tc.Canvas = d.boards.Board(session.ID())
	}
	return &tc
}

// pump drains one run's event stream, mirrors progress to canvas
// clients, and delivers the final answer to the originating channel.
func (d *Dispatcher) pump(ctx context.Context, session *sessions.Session, handle *agent.RunHandle, channelID, recipient string) {
	mirror := d.canvas != nil && channelID == d.canvas.ID()
	var answer string
	var failure *models.ErrorPayload

	for ev := range handle.Events {
		switch ev.Type {
		case models.RunEventStarted:
			if mirror {
				d.canvas.AgentStatus(recipient, "running")
			}
		case models.RunEventTextDelta:
			if mirror {
				d.canvas.TextDelta(recipient, ev.TextDelta.Delta)
			}
		case models.RunEventToolStart:
			if d.metrics != nil {
				d.metrics.ToolInvocations.WithLabelValues(ev.Tool.Name).Inc()
			}
			if mirror {
				d.canvas.AgentStatus(recipient, "tool: "+ev.Tool.Name)
			}
		case models.RunEventCompleted:
			answer = ev.Completed.Answer
		case models.RunEventError:
			failure = ev.Error
		}
	}

	session.SetCancel(nil)
	if failure != nil {
		if d.metrics != nil {
			d.metrics.RunsFailed.Inc()
		}
		session.RecordError(errors.New(failure.Message))
		_ = session.Pause()
		if mirror {
			d.canvas.AgentStatus(recipient, "error")
		}
		if !failure.Cancelled {
			d.deliver(ctx, channelID, recipient, "error: "+failure.Message)
		}
		return
	}

	if d.metrics != nil {
		d.metrics.RunsCompleted.Inc()
	}
	if answer != "" {
		session.AppendMessages(models.Message{
			Role:      models.RoleAssistant,
			Content:   answer,
			CreatedAt: time.Now(),
		})
	}
	_ = session.Pause()
	if mirror {
		d.canvas.AgentStatus(recipient, "idle")
	}
	if answer != "" {
		d.deliver(ctx, channelID, recipient, answer)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, channelID, recipient, text string) {
	ch, ok := d.channels.Get(channelID)
	if !ok {
		d.logger.Warn("reply channel missing", "channel", channelID)
		return
	}
	result := ch.Send(ctx, recipient, &models.OutboundMessage{Text: text})
	if result != nil && !result.Success {
		d.logger.Warn("reply delivery failed", "channel", channelID, "recipient", recipient, "error", result.Error)
	}
}
