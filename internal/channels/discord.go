package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

// DiscordChannel is the gateway (websocket) Bot API adapter.
type DiscordChannel struct {
	handlers

	cfg       config.DiscordChannelConfig
	logger    *slog.Logger
	session   *discordgo.Session
	dedup     *dedup
	connected atomic.Bool
}

func NewDiscordChannel(cfg config.DiscordChannelConfig, logger *slog.Logger) (*DiscordChannel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("channels: discord bot_token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordChannel{
		cfg:    cfg,
		logger: logger.With("channel", "discord"),
		dedup:  newDedup(0),
	}, nil
}

func (c *DiscordChannel) ID() string   { return "discord" }
func (c *DiscordChannel) Name() string { return "Discord" }

func (c *DiscordChannel) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + c.cfg.BotToken)
	if err != nil {
		return fmt.Errorf("channels: discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, s, m)
	})
	session.AddHandler(func(s *discordgo.Session, p *discordgo.PresenceUpdate) {
		c.emitPresence(c.ID(), p.User.ID, p.Status == discordgo.StatusOnline)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("channels: discord connect: %w", err)
	}
	c.session = session
	c.connected.Store(true)
	return nil
}

func (c *DiscordChannel) handleMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if c.dedup.observe(m.ID) {
		return
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	c.emitMessage(ctx, &models.InboundMessage{
		ID:        m.ID,
		ChannelID: c.ID(),
		From: models.Sender{
			ChannelID: c.ID(),
			UserID:    m.Author.ID,
			// GuildID is empty for DMs, which is exactly the group contract.
			GroupID: m.GuildID,
		},
		Text:      m.Content,
		Timestamp: ts,
		Raw:       m,
	})
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.connected.Store(false)
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// Send delivers text to a discord channel id.
func (c *DiscordChannel) Send(ctx context.Context, recipient string, out *models.OutboundMessage) *models.SendResult {
	if c.session == nil {
		return &models.SendResult{Success: false, Error: "discord channel not started"}
	}
	sent, err := c.session.ChannelMessageSend(recipient, out.Text)
	if err != nil {
		c.logger.Error("send failed", "recipient", recipient, "error", err)
		return &models.SendResult{Success: false, Error: err.Error()}
	}
	return &models.SendResult{Success: true, MessageID: sent.ID}
}

func (c *DiscordChannel) Healthy() bool { return c.connected.Load() }
