package pipeline

import (
	"context"

	"github.com/chatelio/chatelio-backend/internal/clients/openai"
)

// OpenAIEmbedder satisfies Embedder with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	Client *openai.Client
	Model  string
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.Client.Embed(ctx, e.Model, texts)
}
