// Package gemini generates chunk embeddings with the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-embedding-001"

var (
	ErrEmptyText   = errors.New("text cannot be empty")
	ErrNoEmbedding = errors.New("no embedding returned")
)

// EmbeddingAPI is the slice of the Gemini client the embedder needs
type EmbeddingAPI interface {
	EmbedContent(ctx context.Context, text string) ([]float32, error)
}

type genaiAdapter struct {
	model *genai.EmbeddingModel
}

func (a *genaiAdapter) EmbedContent(ctx context.Context, text string) ([]float32, error) {
	res, err := a.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil {
		return nil, ErrNoEmbedding
	}
	return res.Embedding.Values, nil
}

// Embedder implements the embedding client over Gemini
type Embedder struct {
	api    EmbeddingAPI
	client *genai.Client
	model  string
}

// NewEmbedder creates a Gemini embedder. Close it on shutdown.
func NewEmbedder(ctx context.Context, apiKey, model string) (*Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument
	return &Embedder{
		api:    &genaiAdapter{model: em},
		client: client,
		model:  model,
	}, nil
}

// GenerateEmbedding embeds one chunk
func (e *Embedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))

	values, err := e.api.EmbedContent(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrNoEmbedding
	}
	return values, nil
}

// Close releases the underlying client
func (e *Embedder) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
