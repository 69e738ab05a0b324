// Package channels defines the uniform ingress/egress contract over
// heterogeneous message transports and the adapters implementing it.
package channels

import (
	"context"
	"sync"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// MessageHandler receives normalized inbound messages.
type MessageHandler func(ctx context.Context, msg *models.InboundMessage)

// PresenceHandler receives user presence transitions on transports that
// surface them.
type PresenceHandler func(channelID, userID string, present bool)

// Channel is one message transport. Implementations normalize platform
// events into InboundMessage, drop bot-originated messages, and
// deduplicate by provider-side message id.
type Channel interface {
	// ID is the stable channel identifier used in context keys.
	ID() string
	// Name is the human-readable transport name.
	Name() string

	// Start connects the transport and begins delivering inbound messages
	// to the registered handler. It returns once the transport is up.
	Start(ctx context.Context) error
	// Stop disconnects and stops delivery.
	Stop(ctx context.Context) error

	// Send delivers outbound text to a transport-specific recipient.
	Send(ctx context.Context, recipient string, out *models.OutboundMessage) *models.SendResult

	// OnMessage registers the inbound handler. Must be called before Start.
	OnMessage(handler MessageHandler)
	// OnPresence registers the presence handler. Optional.
	OnPresence(handler PresenceHandler)

	// Healthy reports whether the transport connection is up.
	Healthy() bool
}

// handlers is the shared registration/emission core embedded by adapters.
type handlers struct {
	mu         sync.RWMutex
	onMessage  MessageHandler
	onPresence PresenceHandler
}

func (h *handlers) OnMessage(handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = handler
}

func (h *handlers) OnPresence(handler PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = handler
}

func (h *handlers) emitMessage(ctx context.Context, msg *models.InboundMessage) {
	h.mu.RLock()
	handler := h.onMessage
	h.mu.RUnlock()
	if handler != nil {
		handler(ctx, msg)
	}
}

func (h *handlers) emitPresence(channelID, userID string, present bool) {
	h.mu.RLock()
	handler := h.onPresence
	h.mu.RUnlock()
	if handler != nil {
		handler(channelID, userID, present)
	}
}

// dedup remembers recently seen provider message ids so webhook or
// reconnect replays are dropped. Bounded FIFO.
type dedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newDedup(limit int) *dedup {
	if limit <= 0 {
		limit = 512
	}
	return &dedup{seen: make(map[string]struct{}), limit: limit}
}

// observe records id and reports whether it was already seen. Empty ids
// are never deduplicated.
func (d *dedup) observe(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.limit {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return false
}
