package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry maps channel ids to live channels. Populated at startup;
// reads dominate after that.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]Channel),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Duplicate ids are an error.
func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[ch.ID()]; ok {
		return fmt.Errorf("channels: duplicate channel %q", ch.ID())
	}
	r.channels[ch.ID()] = ch
	return nil
}

// Get returns the channel for id.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// All returns channels sorted by id.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// OnMessage registers one handler across every channel.
func (r *Registry) OnMessage(handler MessageHandler) {
	for _, ch := range r.All() {
		ch.OnMessage(handler)
	}
}

// StartAll starts every channel. A failing channel is logged and skipped
// so one bad token does not take the gateway down.
func (r *Registry) StartAll(ctx context.Context) {
	for _, ch := range r.All() {
		if err := ch.Start(ctx); err != nil {
			r.logger.Error("channel failed to start", "channel", ch.ID(), "error", err)
			continue
		}
		r.logger.Info("channel started", "channel", ch.ID(), "name", ch.Name())
	}
}

// StopAll stops every channel, returning the last error.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, ch := range r.All() {
		if err := ch.Stop(ctx); err != nil {
			r.logger.Warn("channel stop failed", "channel", ch.ID(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Health reports per-channel health keyed by id.
func (r *Registry) Health() map[string]bool {
	out := make(map[string]bool)
	for _, ch := range r.All() {
		out[ch.ID()] = ch.Healthy()
	}
	return out
}
