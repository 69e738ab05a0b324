package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

// SlackChannel is the Socket Mode adapter. Socket Mode needs both a bot
// token (xoxb) and an app-level token (xapp).
type SlackChannel struct {
	handlers

	cfg       config.SlackChannelConfig
	logger    *slog.Logger
	api       *slack.Client
	socket    *socketmode.Client
	dedup     *dedup
	connected atomic.Bool
	cancel    context.CancelFunc
}

func NewSlackChannel(cfg config.SlackChannelConfig, logger *slog.Logger) (*SlackChannel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("channels: slack needs both bot_token and app_token")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackChannel{
		cfg:    cfg,
		logger: logger.With("channel", "slack"),
		dedup:  newDedup(0),
	}, nil
}

func (c *SlackChannel) ID() string   { return "slack" }
func (c *SlackChannel) Name() string { return "Slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	c.socket = socketmode.New(c.api)

	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("socket mode terminated", "error", err)
		}
		c.connected.Store(false)
	}()
	go c.eventLoop(ctx)
	return nil
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				c.connected.Store(true)
			case socketmode.EventTypeDisconnect:
				c.connected.Store(false)
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
				c.handleEvent(ctx, &apiEvent)
			}
		}
	}
}

func (c *SlackChannel) handleEvent(ctx context.Context, apiEvent *slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// BotID marks our own (and other bots') messages; subtypes are edits,
	// joins, and similar noise.
	if ev.BotID != "" || ev.SubType != "" || ev.Text == "" {
		return
	}
	id := ev.ClientMsgID
	if id == "" {
		id = ev.TimeStamp
	}
	if c.dedup.observe(id) {
		return
	}

	groupID := ""
	if ev.ChannelType != "im" {
		groupID = ev.Channel
	}

	c.emitMessage(ctx, &models.InboundMessage{
		ID:        id,
		ChannelID: c.ID(),
		From: models.Sender{
			ChannelID: c.ID(),
			UserID:    ev.User,
			GroupID:   groupID,
		},
		Text:      ev.Text,
		Timestamp: slackTimestamp(ev.TimeStamp),
		Raw:       ev,
	})
}

func slackTimestamp(ts string) time.Time {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(int64(seconds), 0)
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	c.connected.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts text to a slack channel or DM id.
func (c *SlackChannel) Send(ctx context.Context, recipient string, out *models.OutboundMessage) *models.SendResult {
	if c.api == nil {
		return &models.SendResult{Success: false, Error: "slack channel not started"}
	}
	_, ts, err := c.api.PostMessageContext(ctx, recipient, slack.MsgOptionText(out.Text, false))
	if err != nil {
		c.logger.Error("send failed", "recipient", recipient, "error", err)
		return &models.SendResult{Success: false, Error: err.Error()}
	}
	return &models.SendResult{Success: true, MessageID: ts}
}

func (c *SlackChannel) Healthy() bool { return c.connected.Load() }
