package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

// TelegramChannel is the long-polling Bot API adapter.
type TelegramChannel struct {
	handlers

	cfg       config.TelegramChannelConfig
	logger    *slog.Logger
	bot       *bot.Bot
	dedup     *dedup
	connected atomic.Bool
	cancel    context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramChannelConfig, logger *slog.Logger) (*TelegramChannel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("channels: telegram bot_token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		cfg:    cfg,
		logger: logger.With("channel", "telegram"),
		dedup:  newDedup(0),
	}, nil
}

func (c *TelegramChannel) ID() string   { return "telegram" }
func (c *TelegramChannel) Name() string { return "Telegram" }

func (c *TelegramChannel) Start(ctx context.Context) error {
	b, err := bot.New(c.cfg.BotToken, bot.WithDefaultHandler(c.handleUpdate))
	if err != nil {
		return fmt.Errorf("channels: telegram connect: %w", err)
	}
	c.bot = b

	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		c.connected.Store(true)
		defer c.connected.Store(false)
		b.Start(ctx)
	}()
	return nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, b *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	if msg.From == nil || msg.From.IsBot {
		return
	}
	id := strconv.Itoa(msg.ID)
	if c.dedup.observe(id) {
		return
	}

	groupID := ""
	if msg.Chat.Type != tg.ChatTypePrivate {
		groupID = strconv.FormatInt(msg.Chat.ID, 10)
	}

	c.emitMessage(ctx, &models.InboundMessage{
		ID:        id,
		ChannelID: c.ID(),
		From: models.Sender{
			ChannelID: c.ID(),
			UserID:    strconv.FormatInt(msg.From.ID, 10),
			GroupID:   groupID,
		},
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Raw:       update,
	})
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers text to a chat. The recipient is the chat id; in private
// conversations that equals the user id.
func (c *TelegramChannel) Send(ctx context.Context, recipient string, out *models.OutboundMessage) *models.SendResult {
	if c.bot == nil {
		return &models.SendResult{Success: false, Error: "telegram channel not started"}
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return &models.SendResult{Success: false, Error: fmt.Sprintf("bad chat id %q", recipient)}
	}

	sent, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: out.Text})
	if err != nil {
		c.logger.Error("send failed", "chat_id", chatID, "error", err)
		return &models.SendResult{Success: false, Error: err.Error()}
	}
	return &models.SendResult{Success: true, MessageID: strconv.Itoa(sent.ID)}
}

func (c *TelegramChannel) Healthy() bool { return c.connected.Load() }
