package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/switchyard-ai/switchyard/internal/backoff"
)

// RetryProvider wraps a Provider with capped exponential backoff. A request
// is retried only when it failed with a retryable ProviderError (429 or
// 5xx) before producing any output; once content has streamed, errors pass
// through so the caller never sees a duplicated prefix.
type RetryProvider struct {
	inner       Provider
	policy      backoff.Policy
	maxAttempts int
	logger      *slog.Logger
}

func NewRetryProvider(inner Provider, maxAttempts int, logger *slog.Logger) *RetryProvider {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryProvider{
		inner:       inner,
		policy:      backoff.DefaultPolicy(),
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "provider", "provider", inner.Name()),
	}
}

func (p *RetryProvider) Name() string        { return p.inner.Name() }
func (p *RetryProvider) SupportsTools() bool { return p.inner.SupportsTools() }

func (p *RetryProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)
		for attempt := 1; ; attempt++ {
			err := p.attempt(ctx, req, out, attempt)
			if err == nil {
				return
			}
			if attempt >= p.maxAttempts || !retryable(err) {
				out <- &CompletionChunk{Error: err}
				return
			}
			delay := p.policy.Delay(attempt)
			p.logger.Warn("provider request failed, retrying",
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				out <- &CompletionChunk{Error: ctx.Err()}
				return
			case <-time.After(delay):
			}
		}
	}()
	return out, nil
}

// attempt runs one inner completion. It returns a non-nil error only when
// the failure happened before any chunk was forwarded, making a retry safe.
func (p *RetryProvider) attempt(ctx context.Context, req *CompletionRequest, out chan<- *CompletionChunk, attempt int) error {
	chunks, err := p.inner.Complete(ctx, req)
	if err != nil {
		return err
	}
	forwarded := false
	for chunk := range chunks {
		if chunk.Error != nil {
			if !forwarded {
				// Drain before retrying; providers close after an error.
				for range chunks {
				}
				return chunk.Error
			}
			out <- chunk
			return nil
		}
		forwarded = true
		out <- chunk
	}
	if !forwarded {
		// Stream closed without content or a done marker.
		return errors.New("provider stream ended without output")
	}
	return nil
}

func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
