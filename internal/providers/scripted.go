package providers

import (
	"context"
	"sync"
)

// ScriptedProvider replays pre-programmed turns. Each Complete call emits
// the next turn's chunks and closes the stream. It backs the engine tests
// and the dry-run mode of the terminal channel.
type ScriptedProvider struct {
	mu       sync.Mutex
	turns    [][]*CompletionChunk
	next     int
	requests []*CompletionRequest
}

func NewScriptedProvider(turns ...[]*CompletionChunk) *ScriptedProvider {
	return &ScriptedProvider{turns: turns}
}

func (p *ScriptedProvider) Name() string        { return "scripted" }
func (p *ScriptedProvider) SupportsTools() bool { return true }

func (p *ScriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var turn []*CompletionChunk
	if p.next < len(p.turns) {
		turn = p.turns[p.next]
		p.next++
	} else {
		turn = []*CompletionChunk{{Text: "(script exhausted)"}, {Done: true}}
	}
	p.mu.Unlock()

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)
		for _, chunk := range turn {
			select {
			case <-ctx.Done():
				chunks <- &CompletionChunk{Error: ctx.Err()}
				return
			case chunks <- chunk:
			}
		}
	}()
	return chunks, nil
}

// Requests returns a copy of every request seen, for assertions.
func (p *ScriptedProvider) Requests() []*CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
