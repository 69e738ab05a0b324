package memory

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder computes fixed-width embeddings for content.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimension() int
}

// OpenAIEmbedder embeds via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIEmbedder uses text-embedding-3-small (1536 dims) by default.
func NewOpenAIEmbedder(apiKey string, dimension int) *OpenAIEmbedder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(apiKey),
		model:     openai.SmallEmbedding3,
		dimension: dimension,
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      e.model,
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, &Error{Op: "embed", Err: err}
	}
	if len(resp.Data) != len(inputs) {
		return nil, &Error{Op: "embed", Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(inputs))}
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
