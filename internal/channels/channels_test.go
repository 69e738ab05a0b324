package channels

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tg "github.com/go-telegram/bot/models"
	"github.com/slack-go/slack/slackevents"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

type inboundRecorder struct {
	mu   sync.Mutex
	msgs []*models.InboundMessage
}

func (r *inboundRecorder) handle(_ context.Context, msg *models.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *inboundRecorder) all() []*models.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.InboundMessage(nil), r.msgs...)
}

func TestDedup(t *testing.T) {
	d := newDedup(3)
	if d.observe("a") {
		t.Error("fresh id reported as duplicate")
	}
	if !d.observe("a") {
		t.Error("repeat id not caught")
	}
	// empty ids are never deduplicated
	if d.observe("") || d.observe("") {
		t.Error("empty id deduplicated")
	}
	// capacity evicts the oldest
	d.observe("b")
	d.observe("c")
	d.observe("d")
	if d.observe("a") {
		t.Error("evicted id still remembered")
	}
}

func TestTerminalChannelRoundTrip(t *testing.T) {
	in := strings.NewReader("hello agent\n\n  \nsecond line\n")
	var out bytes.Buffer
	ch := NewTerminalChannel(in, &out, nil)

	rec := &inboundRecorder{}
	ch.OnMessage(rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("got %d messages", len(rec.all()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs := rec.all()
	if msgs[0].Text != "hello agent" || msgs[1].Text != "second line" {
		t.Errorf("messages = %q, %q", msgs[0].Text, msgs[1].Text)
	}
	if msgs[0].ChannelID != "terminal" || msgs[0].From.UserID != "local" {
		t.Errorf("sender = %+v", msgs[0].From)
	}
	if key := msgs[0].ContextKey(); key != "terminal:local" {
		t.Errorf("context key = %q", key)
	}

	result := ch.Send(ctx, "local", &models.OutboundMessage{Text: "reply"})
	if !result.Success {
		t.Fatalf("send = %+v", result)
	}
	if got := out.String(); got != "reply\n" {
		t.Errorf("output = %q", got)
	}

	if err := ch.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(nil)
	term := NewTerminalChannel(strings.NewReader(""), &bytes.Buffer{}, nil)
	if err := reg.Register(term); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(term); err == nil {
		t.Error("duplicate registration succeeded")
	}

	got, ok := reg.Get("terminal")
	if !ok || got.Name() != "Terminal" {
		t.Fatalf("get = %v, %v", got, ok)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("unknown channel found")
	}

	health := reg.Health()
	if healthy, ok := health["terminal"]; !ok || healthy {
		t.Errorf("health before start = %v", health)
	}
}

func TestBuildSkipsDisabled(t *testing.T) {
	reg, err := Build(config.ChannelsConfig{
		Terminal: config.TerminalChannelConfig{Enabled: true},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.All()) != 1 {
		t.Fatalf("channels = %d", len(reg.All()))
	}

	// enabled telegram without a token is a configuration error
	if _, err := Build(config.ChannelsConfig{
		Telegram: config.TelegramChannelConfig{Enabled: true},
	}, nil); err == nil {
		t.Error("telegram without token accepted")
	}
}

func TestTelegramNormalization(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramChannelConfig{BotToken: "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &inboundRecorder{}
	ch.OnMessage(rec.handle)

	update := func(id int, fromID int64, isBot bool, chatType tg.ChatType, text string) *tg.Update {
		return &tg.Update{Message: &tg.Message{
			ID:   id,
			From: &tg.User{ID: fromID, IsBot: isBot},
			Chat: tg.Chat{ID: -100, Type: chatType},
			Date: 1700000000,
			Text: text,
		}}
	}

	ctx := context.Background()
	ch.handleUpdate(ctx, nil, update(1, 42, false, tg.ChatTypePrivate, "dm"))
	ch.handleUpdate(ctx, nil, update(1, 42, false, tg.ChatTypePrivate, "dm"))        // duplicate
	ch.handleUpdate(ctx, nil, update(2, 43, true, tg.ChatTypePrivate, "from a bot")) // bot
	ch.handleUpdate(ctx, nil, update(3, 42, false, tg.ChatTypeGroup, "group msg"))

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[0].From.UserID != "42" || msgs[0].From.GroupID != "" {
		t.Errorf("dm sender = %+v", msgs[0].From)
	}
	if msgs[1].From.GroupID != "-100" {
		t.Errorf("group sender = %+v", msgs[1].From)
	}
	if key := msgs[1].ContextKey(); key != "telegram:42:-100" {
		t.Errorf("group context key = %q", key)
	}
}

func TestDiscordNormalization(t *testing.T) {
	ch, err := NewDiscordChannel(config.DiscordChannelConfig{BotToken: "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &inboundRecorder{}
	ch.OnMessage(rec.handle)

	session := &discordgo.Session{}
	msg := func(id, author string, bot bool, guild string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:      id,
			Content: "hi",
			GuildID: guild,
			Author:  &discordgo.User{ID: author, Bot: bot},
		}}
	}

	ctx := context.Background()
	ch.handleMessage(ctx, session, msg("m1", "u1", false, ""))
	ch.handleMessage(ctx, session, msg("m1", "u1", false, "")) // duplicate
	ch.handleMessage(ctx, session, msg("m2", "u2", true, ""))  // bot
	ch.handleMessage(ctx, session, msg("m3", "u1", false, "g1"))

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[0].From.GroupID != "" || msgs[1].From.GroupID != "g1" {
		t.Errorf("group routing = %+v, %+v", msgs[0].From, msgs[1].From)
	}
}

func TestSlackNormalization(t *testing.T) {
	ch, err := NewSlackChannel(config.SlackChannelConfig{BotToken: "xoxb", AppToken: "xapp"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &inboundRecorder{}
	ch.OnMessage(rec.handle)

	event := func(clientMsgID, user, botID, channelType, text string) *slackevents.EventsAPIEvent {
		return &slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					ClientMsgID: clientMsgID,
					User:        user,
					BotID:       botID,
					Channel:     "C123",
					ChannelType: channelType,
					Text:        text,
					TimeStamp:   "1700000000.000100",
				},
			},
		}
	}

	ctx := context.Background()
	ch.handleEvent(ctx, event("a", "U1", "", "im", "dm"))
	ch.handleEvent(ctx, event("a", "U1", "", "im", "dm"))        // duplicate
	ch.handleEvent(ctx, event("b", "U2", "B9", "im", "bot msg")) // bot
	ch.handleEvent(ctx, event("c", "U1", "", "channel", "group"))

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[0].From.GroupID != "" {
		t.Errorf("im sender = %+v", msgs[0].From)
	}
	if msgs[1].From.GroupID != "C123" {
		t.Errorf("channel sender = %+v", msgs[1].From)
	}
	if msgs[0].Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", msgs[0].Timestamp)
	}
}

func TestSlackChannelNeedsBothTokens(t *testing.T) {
	if _, err := NewSlackChannel(config.SlackChannelConfig{BotToken: "xoxb"}, nil); err == nil {
		t.Error("missing app token accepted")
	}
}
