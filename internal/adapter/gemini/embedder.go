package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var (
	// ErrEmbeddingService covers transport failures of the embedding
	// provider.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrEmptyInput is returned for empty or whitespace-only text.
	// Callers decide whether to skip such input; the adapter never
	// embeds it.
	ErrEmptyInput = errors.New("empty input text")
)

type Embedder struct {
	client *genai.Client
	model  string
	dim    int
}

// NewEmbedder builds an embedder pinned to a model and an expected
// vector dimension. A vector of any other length is rejected so a
// provider-side model change can never silently corrupt a collection.
func NewEmbedder(ctx context.Context, apiKey, model string, dim int, opts ...option.ClientOption) (*Embedder, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: model, dim: dim}, nil
}

func (e *Embedder) Dimension() int {
	return e.dim
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", ErrEmbeddingService)
	}

	vec := res.Embedding.Values
	if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrEmbeddingService, len(vec), e.dim)
	}

	return vec, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
