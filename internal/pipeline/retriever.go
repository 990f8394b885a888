package pipeline

import (
	"context"
	"fmt"

	"github.com/chatelio/chatelio-backend/internal/clients/pinecone"
)

// VectorRetriever embeds the query and searches one tenant namespace. The
// namespace is fixed at construction, which is what pins a built pipeline to
// its tenant.
type VectorRetriever struct {
	Store     pinecone.VectorStore
	Embedder  Embedder
	Namespace string
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	vectors, err := r.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}
	matches, err := r.Store.Search(ctx, r.Namespace, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	return texts, nil
}
