package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// flakyProvider fails the first n Complete calls with the given error, then
// delegates to a scripted success.
type flakyProvider struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) Name() string        { return "flaky" }
func (f *flakyProvider) SupportsTools() bool { return true }

func (f *flakyProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()

	chunks := make(chan *CompletionChunk, 4)
	go func() {
		defer close(chunks)
		if fail {
			chunks <- &CompletionChunk{Error: f.err}
			return
		}
		chunks <- &CompletionChunk{Text: "ok"}
		chunks <- &CompletionChunk{Done: true}
	}()
	return chunks, nil
}

func collect(t *testing.T, chunks <-chan *CompletionChunk) (text string, done bool, err error) {
	t.Helper()
	for chunk := range chunks {
		if chunk.Error != nil {
			return text, done, chunk.Error
		}
		text += chunk.Text
		if chunk.Done {
			done = true
		}
	}
	return text, done, nil
}

func fastRetry(inner Provider, attempts int) *RetryProvider {
	p := NewRetryProvider(inner, attempts, nil)
	p.policy.InitialMs = 1
	p.policy.MaxMs = 2
	return p
}

func TestRetryProviderRetriesRateLimit(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: &ProviderError{Provider: "flaky", Status: 429}}
	p := fastRetry(inner, 3)

	chunks, err := p.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	text, done, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream error after retries: %v", err)
	}
	if text != "ok" || !done {
		t.Errorf("text=%q done=%v", text, done)
	}
	if inner.calls != 3 {
		t.Errorf("inner calls = %d, want 3", inner.calls)
	}
}

func TestRetryProviderDoesNotRetryClientError(t *testing.T) {
	inner := &flakyProvider{failures: 5, err: &ProviderError{Provider: "flaky", Status: 400}}
	p := fastRetry(inner, 3)

	chunks, err := p.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = collect(t, chunks)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != 400 {
		t.Fatalf("err = %v, want status-400 provider error", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1 (no retry on 4xx)", inner.calls)
	}
}

func TestRetryProviderExhaustsAttempts(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: &ProviderError{Provider: "flaky", Status: 503}}
	p := fastRetry(inner, 3)

	chunks, err := p.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = collect(t, chunks)
	if err == nil {
		t.Fatal("expected terminal error after exhausting retries")
	}
	if inner.calls != 3 {
		t.Errorf("inner calls = %d, want 3", inner.calls)
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{599, true},
		{400, false},
		{401, false},
		{404, false},
		{200, false},
	}
	for _, tt := range tests {
		e := &ProviderError{Status: tt.status}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("status %d: Retryable = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestScriptedProviderPlaysTurnsInOrder(t *testing.T) {
	p := NewScriptedProvider(
		[]*CompletionChunk{{Text: "first"}, {Done: true}},
		[]*CompletionChunk{{Text: "second"}, {Done: true}},
	)

	for _, want := range []string{"first", "second"} {
		chunks, err := p.Complete(context.Background(), &CompletionRequest{})
		if err != nil {
			t.Fatal(err)
		}
		text, done, err := collect(t, chunks)
		if err != nil || !done || text != want {
			t.Errorf("turn: text=%q done=%v err=%v, want %q", text, done, err, want)
		}
	}
	if n := len(p.Requests()); n != 2 {
		t.Errorf("recorded %d requests, want 2", n)
	}
}
