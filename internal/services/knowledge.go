package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/clients/pinecone"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/pipeline"
	"github.com/chatelio/chatelio-backend/internal/repos"
	"github.com/chatelio/chatelio-backend/internal/types"
)

// MaxDocumentBytes caps a single upload.
const MaxDocumentBytes = 10 << 20

// Invalidator evicts a tenant's cached pipelines. Satisfied by the pipeline
// cache; the knowledge service fires it after every knowledge mutation.
type Invalidator interface {
	Invalidate(tenantID string)
}

// InvalidationPublisher fans the eviction out to other instances. May be nil
// when running single-instance.
type InvalidationPublisher interface {
	Publish(ctx context.Context, tenantID string) error
}

type KnowledgeService interface {
	UploadDocument(ctx context.Context, companyID uuid.UUID, filename, content string) (*types.Document, error)
	ListDocuments(ctx context.Context, companyID uuid.UUID) ([]types.Document, error)
	GetDocument(ctx context.Context, companyID, documentID uuid.UUID) (*types.Document, error)
	DeleteDocument(ctx context.Context, companyID, documentID uuid.UUID) error
	ClearKnowledgeBase(ctx context.Context, companyID uuid.UUID) error
	// SeedFallback writes a minimal company profile into an empty namespace so
	// retrieval always has something to ground on.
	SeedFallback(ctx context.Context, company *types.Company) error
	// ReconcilePending re-drives documents left in pending/processing by a
	// crash. Run once at startup.
	ReconcilePending(ctx context.Context) error
}

type knowledgeService struct {
	db        *gorm.DB
	companies repos.CompanyRepo
	kbs       repos.KnowledgeBaseRepo
	docs      repos.DocumentRepo
	store     pinecone.VectorStore
	embedder  pipeline.Embedder
	cache     Invalidator
	bus       InvalidationPublisher
	log       *logger.Logger
}

func NewKnowledgeService(
	db *gorm.DB,
	companies repos.CompanyRepo,
	kbs repos.KnowledgeBaseRepo,
	docs repos.DocumentRepo,
	store pinecone.VectorStore,
	embedder pipeline.Embedder,
	cache Invalidator,
	bus InvalidationPublisher,
	log *logger.Logger,
) KnowledgeService {
	return &knowledgeService{
		db:        db,
		companies: companies,
		kbs:       kbs,
		docs:      docs,
		store:     store,
		embedder:  embedder,
		cache:     cache,
		bus:       bus,
		log:       log.With("service", "knowledge"),
	}
}

func (s *knowledgeService) UploadDocument(ctx context.Context, companyID uuid.UUID, filename, content string) (*types.Document, error) {
	if filename == "" || content == "" {
		return nil, apierr.ErrValidation
	}
	if len(content) > MaxDocumentBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", apierr.ErrValidation, MaxDocumentBytes)
	}
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("%w: document is not valid UTF-8", apierr.ErrValidation)
	}

	kb, err := s.ensureKnowledgeBase(ctx, companyID)
	if err != nil {
		return nil, err
	}

	doc := &types.Document{
		ID:               uuid.New(),
		KnowledgeBaseID:  kb.ID,
		CompanyID:        companyID,
		Filename:         filename,
		Content:          content,
		ContentType:      "text/plain",
		FileSize:         int64(len(content)),
		EmbeddingsStatus: types.EmbeddingsPending,
	}
	if err := s.docs.Create(ctx, nil, doc); err != nil {
		return nil, err
	}
	if err := s.kbs.AdjustFileCount(ctx, nil, kb.ID, 1); err != nil {
		return nil, err
	}

	if err := s.embedDocument(ctx, doc); err != nil {
		// The row stays in failed state for a later reconcile/retry; the
		// upload itself still succeeded.
		s.log.Error("embedding failed", "company_id", companyID.String(), "error", err.Error())
	}

	s.invalidate(ctx, companyID)
	return doc, nil
}

// embedDocument drives pending -> processing -> completed|failed. The index
// write happens strictly before the completed flip, so a "completed" row
// always has vectors behind it.
func (s *knowledgeService) embedDocument(ctx context.Context, doc *types.Document) error {
	if err := s.docs.SetEmbeddingsStatus(ctx, nil, doc.ID, types.EmbeddingsProcessing, nil); err != nil {
		return err
	}

	if err := s.indexDocument(ctx, doc); err != nil {
		if stErr := s.docs.SetEmbeddingsStatus(ctx, nil, doc.ID, types.EmbeddingsFailed, nil); stErr != nil {
			s.log.Error("could not mark document failed", "error", stErr.Error())
		}
		doc.EmbeddingsStatus = types.EmbeddingsFailed
		return err
	}

	now := time.Now()
	if err := s.docs.SetEmbeddingsStatus(ctx, nil, doc.ID, types.EmbeddingsCompleted, &now); err != nil {
		return err
	}
	doc.EmbeddingsStatus = types.EmbeddingsCompleted
	doc.EmbeddedAt = &now
	return nil
}

func (s *knowledgeService) indexDocument(ctx context.Context, doc *types.Document) error {
	texts := splitText(doc.Content, chunkSize, chunkOverlap)
	if len(texts) == 0 {
		return nil
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(texts))
	}
	chunks := make([]pinecone.Chunk, len(texts))
	for i := range texts {
		chunks[i] = pinecone.Chunk{DocumentID: doc.ID, Ordinal: i, Text: texts[i], Vector: vectors[i]}
	}
	namespace := types.CompanyNamespace(doc.CompanyID)
	return s.store.UpsertChunks(ctx, namespace, doc.Filename, chunks)
}

func (s *knowledgeService) ListDocuments(ctx context.Context, companyID uuid.UUID) ([]types.Document, error) {
	return s.docs.ListByCompany(ctx, nil, companyID)
}

func (s *knowledgeService) GetDocument(ctx context.Context, companyID, documentID uuid.UUID) (*types.Document, error) {
	return s.docs.GetByID(ctx, nil, companyID, documentID)
}

// DeleteDocument removes the row, then rebuilds the tenant namespace from the
// remaining completed documents. The vector API deletes whole namespaces, so
// per-document removal is a namespace rebuild.
func (s *knowledgeService) DeleteDocument(ctx context.Context, companyID, documentID uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, nil, companyID, documentID)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, nil, companyID, documentID); err != nil {
		return err
	}
	kb, err := s.kbs.GetByCompany(ctx, nil, companyID)
	if err == nil {
		if err := s.kbs.AdjustFileCount(ctx, nil, kb.ID, -1); err != nil {
			return err
		}
	} else if !errors.Is(err, apierr.ErrNotFound) {
		return err
	}

	if err := s.reindexNamespace(ctx, companyID); err != nil {
		s.log.Error("namespace rebuild failed after delete", "company_id", companyID.String(), "error", err.Error())
	}
	s.invalidate(ctx, companyID)
	s.log.Info("document deleted", "company_id", companyID.String(), "filename", doc.Filename)
	return nil
}

func (s *knowledgeService) ClearKnowledgeBase(ctx context.Context, companyID uuid.UUID) error {
	removed, err := s.docs.DeleteByCompany(ctx, nil, companyID)
	if err != nil {
		return err
	}
	kb, err := s.kbs.GetByCompany(ctx, nil, companyID)
	if err == nil {
		if err := s.kbs.SetFileCount(ctx, nil, kb.ID, 0); err != nil {
			return err
		}
	} else if !errors.Is(err, apierr.ErrNotFound) {
		return err
	}

	if err := s.store.DeleteNamespace(ctx, types.CompanyNamespace(companyID)); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	s.invalidate(ctx, companyID)
	s.log.Info("knowledge base cleared", "company_id", companyID.String(), "documents_removed", removed)
	return nil
}

func (s *knowledgeService) SeedFallback(ctx context.Context, company *types.Company) error {
	content := fmt.Sprintf(
		"%s is an organization using this assistant. No documents have been uploaded to its knowledge base yet. When asked about %s, explain that detailed information is not available and suggest contacting the organization directly.",
		company.Name, company.Name,
	)
	texts := splitText(content, chunkSize, chunkOverlap)
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed fallback: %w", err)
	}
	chunks := make([]pinecone.Chunk, len(texts))
	seedID := uuid.New()
	for i := range texts {
		chunks[i] = pinecone.Chunk{DocumentID: seedID, Ordinal: i, Text: texts[i], Vector: vectors[i]}
	}
	if err := s.store.UpsertChunks(ctx, company.Namespace(), "fallback.txt", chunks); err != nil {
		return err
	}
	s.log.Info("fallback content seeded", "company_id", company.ID.String())
	return nil
}

func (s *knowledgeService) ReconcilePending(ctx context.Context) error {
	docs, err := s.docs.ListUnfinished(ctx, nil)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	s.log.Info("reconciling unfinished documents", "count", len(docs))

	touched := make(map[uuid.UUID]bool)
	for i := range docs {
		doc := docs[i]
		if err := s.embedDocument(ctx, &doc); err != nil {
			s.log.Warn("reconcile embed failed", "filename", doc.Filename, "error", err.Error())
		}
		touched[doc.CompanyID] = true
	}
	for companyID := range touched {
		s.invalidate(ctx, companyID)
	}
	return nil
}

// reindexNamespace drops the namespace and re-upserts every completed
// document's chunks.
func (s *knowledgeService) reindexNamespace(ctx context.Context, companyID uuid.UUID) error {
	namespace := types.CompanyNamespace(companyID)
	if err := s.store.DeleteNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	docs, err := s.docs.ListCompletedByCompany(ctx, nil, companyID)
	if err != nil {
		return err
	}
	for i := range docs {
		if err := s.indexDocument(ctx, &docs[i]); err != nil {
			return fmt.Errorf("reindex %s: %w", docs[i].Filename, err)
		}
	}
	return nil
}

func (s *knowledgeService) invalidate(ctx context.Context, companyID uuid.UUID) {
	tenantID := companyID.String()
	s.cache.Invalidate(tenantID)
	if s.bus != nil {
		if err := s.bus.Publish(ctx, tenantID); err != nil {
			s.log.Warn("invalidation publish failed", "company_id", tenantID, "error", err.Error())
		}
	}
}

func (s *knowledgeService) ensureKnowledgeBase(ctx context.Context, companyID uuid.UUID) (*types.KnowledgeBase, error) {
	kb, err := s.kbs.GetByCompany(ctx, nil, companyID)
	if err == nil {
		return kb, nil
	}
	if !errors.Is(err, apierr.ErrNotFound) {
		return nil, err
	}
	company, err := s.companies.GetByID(ctx, nil, companyID)
	if err != nil {
		return nil, err
	}
	kb = &types.KnowledgeBase{
		ID:        uuid.New(),
		CompanyID: companyID,
		Name:      company.Name + " Knowledge Base",
		Status:    "ready",
	}
	if err := s.kbs.Create(ctx, nil, kb); err != nil {
		return nil, err
	}
	return kb, nil
}
