package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// TerminalChannel reads user lines from an input stream and writes agent
// replies to an output stream. It is the zero-configuration transport for
// local development.
type TerminalChannel struct {
	handlers

	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
	userID  string
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	writeMu sync.Mutex
}

// NewTerminalChannel builds a terminal channel. Nil in/out default to the
// process stdio.
func NewTerminalChannel(in io.Reader, out io.Writer, logger *slog.Logger) *TerminalChannel {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalChannel{
		in:     in,
		out:    out,
		logger: logger.With("channel", "terminal"),
		userID: "local",
	}
}

func (c *TerminalChannel) ID() string   { return "terminal" }
func (c *TerminalChannel) Name() string { return "Terminal" }

func (c *TerminalChannel) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.readLoop(ctx)
	return nil
}

func (c *TerminalChannel) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.running.Store(false)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		c.emitMessage(ctx, &models.InboundMessage{
			ID:        uuid.NewString(),
			ChannelID: c.ID(),
			From:      models.Sender{ChannelID: c.ID(), UserID: c.userID},
			Text:      text,
			Timestamp: time.Now(),
		})
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("terminal input closed", "error", err)
	}
}

func (c *TerminalChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TerminalChannel) Send(ctx context.Context, recipient string, out *models.OutboundMessage) *models.SendResult {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintln(c.out, out.Text); err != nil {
		return &models.SendResult{Success: false, Error: err.Error()}
	}
	return &models.SendResult{Success: true, MessageID: uuid.NewString()}
}

func (c *TerminalChannel) Healthy() bool { return c.running.Load() }
