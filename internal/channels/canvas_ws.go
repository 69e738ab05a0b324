package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/switchyard-ai/switchyard/internal/canvas"
	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

const (
	canvasMaxPayloadBytes = 1 << 20
	canvasWriteWait       = 10 * time.Second
	canvasSendBuffer      = 64
)

// CanvasChannel mirrors agent output and board state to browser clients
// over websockets and turns their UI events into inbound text. It does
// not listen by itself; the gateway mounts it at /ws/{sessionId}.
//
// A client addresses one agent session, so the websocket path's session
// id doubles as the sender id: inbound messages from a canvas client
// carry the context key "canvas:<sessionId>", and Send with that session
// id as recipient fans out to every client attached to it.
type CanvasChannel struct {
	handlers

	cfg      config.CanvasChannelConfig
	boards   *canvas.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
	running  atomic.Bool

	mu    sync.RWMutex
	conns map[string]map[*canvasConn]struct{}
}

type canvasConn struct {
	ws     *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCanvasChannel(cfg config.CanvasChannelConfig, boards *canvas.Manager, logger *slog.Logger) (*CanvasChannel, error) {
	if boards == nil {
		return nil, fmt.Errorf("channels: canvas board manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CanvasChannel{
		cfg:    cfg,
		boards: boards,
		logger: logger.With("channel", "canvas"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		conns: make(map[string]map[*canvasConn]struct{}),
	}, nil
}

func (c *CanvasChannel) ID() string   { return "canvas" }
func (c *CanvasChannel) Name() string { return "Canvas" }

func (c *CanvasChannel) Start(ctx context.Context) error {
	c.running.Store(true)
	return nil
}

func (c *CanvasChannel) Stop(ctx context.Context) error {
	c.running.Store(false)
	c.mu.Lock()
	for _, conns := range c.conns {
		for conn := range conns {
			conn.cancel()
			_ = conn.ws.Close()
		}
	}
	c.conns = make(map[string]map[*canvasConn]struct{})
	c.mu.Unlock()
	return nil
}

func (c *CanvasChannel) Healthy() bool { return c.running.Load() }

// ServeHTTP upgrades one client connection. It blocks until the client
// disconnects or the channel stops.
func (c *CanvasChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.running.Load() {
		http.Error(w, "canvas channel not started", http.StatusServiceUnavailable)
		return
	}
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		sessionID = strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws"), "/")
	}
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	if err := c.authenticate(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	conn := &canvasConn{
		ws:     ws,
		send:   make(chan []byte, canvasSendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	c.register(sessionID, conn)
	defer func() {
		c.unregister(sessionID, conn)
		cancel()
		_ = ws.Close()
	}()

	go conn.writeLoop()

	// Late joiners get the full board state first, then live changes.
	snap := c.boards.Board(sessionID).Snapshot()
	conn.enqueue(canvasServerFrame{
		Type:      s2cCanvasSnapshot,
		Snapshot:  &snap,
		Timestamp: time.Now().UnixMilli(),
	})

	changes, unsubscribe := c.boards.Subscribe(sessionID)
	defer unsubscribe()
	go conn.pumpChanges(changes)

	c.readLoop(ctx, sessionID, conn)
}

// authenticate checks the ?token= query parameter when a signing secret
// is configured. Without a secret the channel is open.
func (c *CanvasChannel) authenticate(r *http.Request) error {
	if c.cfg.AuthToken == "" {
		return nil
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return fmt.Errorf("missing token")
	}
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(c.cfg.AuthToken), nil
	})
	return err
}

func (c *CanvasChannel) readLoop(ctx context.Context, sessionID string, conn *canvasConn) {
	conn.ws.SetReadLimit(canvasMaxPayloadBytes)
	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeCanvasFrame(data)
		if err != nil {
			c.logger.Warn("dropping invalid frame", "session_id", sessionID, "error", err)
			continue
		}

		switch frame.Type {
		case c2sPing:
			conn.enqueue(canvasServerFrame{Type: s2cPong, Timestamp: frame.Timestamp})
		case c2sDrag:
			if _, err := c.boards.Board(sessionID).MoveNode(frame.NodeID, *frame.Position); err != nil {
				c.logger.Warn("drag rejected", "session_id", sessionID, "node_id", frame.NodeID, "error", err)
			}
		default:
			text, ok := translateCanvasFrame(frame)
			if !ok || text == "" {
				continue
			}
			c.emitMessage(ctx, &models.InboundMessage{
				ID:        uuid.NewString(),
				ChannelID: c.ID(),
				From: models.Sender{
					ChannelID: c.ID(),
					UserID:    sessionID,
				},
				Text:      text,
				Timestamp: time.Now(),
				Raw:       frame,
			})
		}
	}
}

// Send delivers final text to every client attached to a session.
func (c *CanvasChannel) Send(ctx context.Context, recipient string, out *models.OutboundMessage) *models.SendResult {
	delivered := c.broadcast(recipient, canvasServerFrame{
		Type:      s2cTextComplete,
		Text:      out.Text,
		Timestamp: time.Now().UnixMilli(),
	})
	if delivered == 0 {
		return &models.SendResult{Success: false, Error: "no connected canvas clients"}
	}
	return &models.SendResult{Success: true, MessageID: uuid.NewString()}
}

// TextDelta streams one partial output chunk to a session's clients.
func (c *CanvasChannel) TextDelta(sessionID, text string) {
	c.broadcast(sessionID, canvasServerFrame{
		Type:      s2cTextDelta,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// AgentStatus mirrors run lifecycle changes to a session's clients.
func (c *CanvasChannel) AgentStatus(sessionID, status string) {
	c.broadcast(sessionID, canvasServerFrame{
		Type:      s2cAgentStatus,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *CanvasChannel) broadcast(sessionID string, frame canvasServerFrame) int {
	data, err := json.Marshal(frame)
	if err != nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	delivered := 0
	for conn := range c.conns[sessionID] {
		select {
		case conn.send <- data:
			delivered++
		default:
		}
	}
	return delivered
}

func (c *CanvasChannel) register(sessionID string, conn *canvasConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := c.conns[sessionID]
	if conns == nil {
		conns = make(map[*canvasConn]struct{})
		c.conns[sessionID] = conns
	}
	conns[conn] = struct{}{}
}

func (c *CanvasChannel) unregister(sessionID string, conn *canvasConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := c.conns[sessionID]
	if conns == nil {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(c.conns, sessionID)
	}
}

func (cc *canvasConn) enqueue(frame canvasServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case cc.send <- data:
	default:
	}
}

func (cc *canvasConn) writeLoop() {
	for {
		select {
		case <-cc.ctx.Done():
			return
		case data := <-cc.send:
			_ = cc.ws.SetWriteDeadline(time.Now().Add(canvasWriteWait)) //nolint:errcheck
			if err := cc.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				cc.cancel()
				return
			}
		}
	}
}

func (cc *canvasConn) pumpChanges(changes <-chan canvas.StreamEvent) {
	for {
		select {
		case <-cc.ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			cc.enqueue(canvasServerFrame{
				Type:      s2cCanvasChange,
				Change:    &ev.Event,
				Timestamp: ev.Timestamp.UnixMilli(),
			})
		}
	}
}
