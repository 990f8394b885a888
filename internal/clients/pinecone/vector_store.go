package pinecone

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatelio/chatelio-backend/internal/logger"
)

// Chunk is one embedded slice of a source document, carried alongside its
// vector so retrieval can hand text straight back to the pipeline.
type Chunk struct {
	DocumentID uuid.UUID
	Ordinal    int
	Text       string
	Vector     []float32
}

// Retrieved is a scored chunk returned from a similarity query.
type Retrieved struct {
	Text       string
	Score      float32
	DocumentID string
	Filename   string
}

// VectorStore is the namespace-partitioned view of the index. Every method
// takes the bare namespace name; implementations own the mapping to the
// underlying index.
type VectorStore interface {
	UpsertChunks(ctx context.Context, namespace string, filename string, chunks []Chunk) error
	Search(ctx context.Context, namespace string, vector []float32, topK int) ([]Retrieved, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	VectorCount(ctx context.Context, namespace string) (int, error)
}

type vectorStore struct {
	client *Client
	log    *logger.Logger
}

func NewVectorStore(client *Client, log *logger.Logger) VectorStore {
	return &vectorStore{client: client, log: log.With("component", "vector_store")}
}

func (s *vectorStore) UpsertChunks(ctx context.Context, namespace string, filename string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors := make([]Vector, 0, len(chunks))
	for _, ch := range chunks {
		vectors = append(vectors, Vector{
			ID:     fmt.Sprintf("%s#%d", ch.DocumentID, ch.Ordinal),
			Values: ch.Vector,
			Metadata: map[string]string{
				"text":        ch.Text,
				"document_id": ch.DocumentID.String(),
				"filename":    filename,
			},
		})
	}
	// Pinecone caps upsert batches; 100 stays well under the payload limit.
	for start := 0; start < len(vectors); start += 100 {
		end := start + 100
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := s.client.Upsert(ctx, namespace, vectors[start:end]); err != nil {
			return fmt.Errorf("upsert chunk batch: %w", err)
		}
	}
	s.log.Debug("chunks upserted", "count", len(vectors))
	return nil
}

func (s *vectorStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]Retrieved, error) {
	matches, err := s.client.Query(ctx, namespace, vector, topK)
	if err != nil {
		return nil, err
	}
	out := make([]Retrieved, 0, len(matches))
	for _, m := range matches {
		out = append(out, Retrieved{
			Text:       m.Metadata["text"],
			Score:      m.Score,
			DocumentID: m.Metadata["document_id"],
			Filename:   m.Metadata["filename"],
		})
	}
	return out, nil
}

func (s *vectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	return s.client.DeleteNamespace(ctx, namespace)
}

func (s *vectorStore) VectorCount(ctx context.Context, namespace string) (int, error) {
	return s.client.NamespaceVectorCount(ctx, namespace)
}
