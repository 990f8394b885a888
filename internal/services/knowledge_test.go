package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/repos"
	"github.com/chatelio/chatelio-backend/internal/types"
)

type knowledgeFixture struct {
	svc      KnowledgeService
	gdb      *gorm.DB
	store    *fakeVectorStore
	embedder *fakeEmbedder
	evicted  *fakeInvalidator
}

func newKnowledgeFixture(t *testing.T) *knowledgeFixture {
	t.Helper()
	gdb := testDB(t)
	log := testLogger(t)
	store := newFakeVectorStore()
	embedder := &fakeEmbedder{}
	evicted := &fakeInvalidator{}
	svc := NewKnowledgeService(
		gdb,
		repos.NewCompanyRepo(gdb, log),
		repos.NewKnowledgeBaseRepo(gdb, log),
		repos.NewDocumentRepo(gdb, log),
		store,
		embedder,
		evicted,
		nil,
		log,
	)
	return &knowledgeFixture{svc: svc, gdb: gdb, store: store, embedder: embedder, evicted: evicted}
}

func (f *knowledgeFixture) fileCount(t *testing.T, companyID any) int {
	t.Helper()
	var kb types.KnowledgeBase
	if err := f.gdb.First(&kb, "company_id = ?", companyID).Error; err != nil {
		t.Fatalf("load kb: %v", err)
	}
	return kb.FileCount
}

func TestUploadDocumentEmbedsAndInvalidates(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "uploadco")

	doc, err := f.svc.UploadDocument(ctx, company.ID, "handbook.txt", "Our office opens at nine and closes at five.")
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if doc.EmbeddingsStatus != types.EmbeddingsCompleted {
		t.Fatalf("status = %q, want completed", doc.EmbeddingsStatus)
	}
	if doc.EmbeddedAt == nil {
		t.Fatalf("embedded_at not set")
	}

	chunks := f.store.chunksIn(types.CompanyNamespace(company.ID))
	if len(chunks) == 0 {
		t.Fatalf("no chunks reached the tenant namespace")
	}
	if f.fileCount(t, company.ID) != 1 {
		t.Fatalf("file_count = %d, want 1", f.fileCount(t, company.ID))
	}
	if f.evicted.count() == 0 {
		t.Fatalf("upload did not invalidate the pipeline cache")
	}
}

func TestUploadDocumentValidation(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "validco")

	huge := strings.Repeat("a", MaxDocumentBytes+1)
	if _, err := f.svc.UploadDocument(ctx, company.ID, "huge.txt", huge); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("oversized upload should fail validation, got %v", err)
	}
	if _, err := f.svc.UploadDocument(ctx, company.ID, "bad.txt", "ok\xfftext"); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("non-UTF-8 upload should fail validation, got %v", err)
	}
	if _, err := f.svc.UploadDocument(ctx, company.ID, "", "content"); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("empty filename should fail validation, got %v", err)
	}
}

func TestUploadSurvivesEmbeddingFailure(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "failco")
	f.embedder.err = fmt.Errorf("embeddings api down")

	doc, err := f.svc.UploadDocument(ctx, company.ID, "doomed.txt", "some text")
	if err != nil {
		t.Fatalf("upload should succeed even when embedding fails: %v", err)
	}
	if doc.EmbeddingsStatus != types.EmbeddingsFailed {
		t.Fatalf("status = %q, want failed", doc.EmbeddingsStatus)
	}
}

func TestDeleteDocumentRebuildsNamespace(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "delco")

	first, err := f.svc.UploadDocument(ctx, company.ID, "a.txt", "alpha content about widgets")
	if err != nil {
		t.Fatalf("upload a: %v", err)
	}
	if _, err := f.svc.UploadDocument(ctx, company.ID, "b.txt", "beta content about gadgets"); err != nil {
		t.Fatalf("upload b: %v", err)
	}

	if err := f.svc.DeleteDocument(ctx, company.ID, first.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if f.fileCount(t, company.ID) != 1 {
		t.Fatalf("file_count = %d, want 1", f.fileCount(t, company.ID))
	}

	// Only the surviving document's chunks remain in the namespace.
	for _, ch := range f.store.chunksIn(types.CompanyNamespace(company.ID)) {
		if ch.DocumentID == first.ID {
			t.Fatalf("deleted document's chunks still indexed")
		}
	}

	if err := f.svc.DeleteDocument(ctx, company.ID, first.ID); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("double delete should be not-found, got %v", err)
	}
}

func TestClearKnowledgeBase(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "clearco")

	if _, err := f.svc.UploadDocument(ctx, company.ID, "a.txt", "alpha"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := f.svc.ClearKnowledgeBase(ctx, company.ID); err != nil {
		t.Fatalf("ClearKnowledgeBase: %v", err)
	}
	if f.fileCount(t, company.ID) != 0 {
		t.Fatalf("file_count = %d, want 0", f.fileCount(t, company.ID))
	}
	if len(f.store.chunksIn(types.CompanyNamespace(company.ID))) != 0 {
		t.Fatalf("namespace not emptied")
	}
	docs, err := f.svc.ListDocuments(ctx, company.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("documents survived clear: %d", len(docs))
	}
}

func TestTenantNamespacesStayIsolated(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	companyA := seedCompany(t, f.gdb, "isoco-a")
	companyB := seedCompany(t, f.gdb, "isoco-b")

	if _, err := f.svc.UploadDocument(ctx, companyA.ID, "a.txt", "tenant a secret recipe"); err != nil {
		t.Fatalf("upload a: %v", err)
	}
	if _, err := f.svc.UploadDocument(ctx, companyB.ID, "b.txt", "tenant b pricing sheet"); err != nil {
		t.Fatalf("upload b: %v", err)
	}

	for _, ch := range f.store.chunksIn(types.CompanyNamespace(companyA.ID)) {
		if strings.Contains(ch.Text, "tenant b") {
			t.Fatalf("tenant b content leaked into tenant a namespace")
		}
	}

	// Clearing one tenant leaves the other intact.
	if err := f.svc.ClearKnowledgeBase(ctx, companyA.ID); err != nil {
		t.Fatalf("clear a: %v", err)
	}
	if len(f.store.chunksIn(types.CompanyNamespace(companyB.ID))) == 0 {
		t.Fatalf("clearing tenant a wiped tenant b's namespace")
	}
}

func TestReconcilePendingCompletesStuckDocuments(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "sweepco")

	// Simulate a crash mid-embedding: a row stuck in processing with no
	// vectors behind it.
	log := testLogger(t)
	kbRepo := repos.NewKnowledgeBaseRepo(f.gdb, log)
	kb := &types.KnowledgeBase{ID: uuid.New(), CompanyID: company.ID, Name: "kb", Status: "ready", FileCount: 1}
	if err := kbRepo.Create(ctx, nil, kb); err != nil {
		t.Fatalf("seed kb: %v", err)
	}
	stuck := &types.Document{
		ID:               uuid.New(),
		KnowledgeBaseID:  kb.ID,
		CompanyID:        company.ID,
		Filename:         "stuck.txt",
		Content:          "content that never made it to the index",
		ContentType:      "text/plain",
		FileSize:         40,
		EmbeddingsStatus: types.EmbeddingsProcessing,
	}
	if err := f.gdb.Create(stuck).Error; err != nil {
		t.Fatalf("seed doc: %v", err)
	}

	if err := f.svc.ReconcilePending(ctx); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}

	var after types.Document
	if err := f.gdb.First(&after, "id = ?", stuck.ID).Error; err != nil {
		t.Fatalf("load doc: %v", err)
	}
	if after.EmbeddingsStatus != types.EmbeddingsCompleted {
		t.Fatalf("status = %q, want completed", after.EmbeddingsStatus)
	}
	if len(f.store.chunksIn(types.CompanyNamespace(company.ID))) == 0 {
		t.Fatalf("reconcile did not index the document")
	}
	if f.evicted.count() == 0 {
		t.Fatalf("reconcile did not invalidate the tenant")
	}
}

func TestSeedFallbackWritesNamespace(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "fallbackco")

	if err := f.svc.SeedFallback(ctx, company); err != nil {
		t.Fatalf("SeedFallback: %v", err)
	}
	chunks := f.store.chunksIn(company.Namespace())
	if len(chunks) == 0 {
		t.Fatalf("fallback seeded no chunks")
	}
	if !strings.Contains(chunks[0].Text, company.Name) {
		t.Fatalf("fallback text does not mention the company: %q", chunks[0].Text)
	}
}
