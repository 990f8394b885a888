package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chatelio/chatelio-backend/internal/clients/pinecone"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_fk=1"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = gdb.AutoMigrate(
		&types.Company{},
		&types.CompanyUser{},
		&types.GuestSession{},
		&types.KnowledgeBase{},
		&types.Document{},
		&types.Chat{},
		&types.Message{},
	)
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	// Shared-cache sqlite returns "table is locked" under concurrent writers;
	// a single connection serializes them.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		for _, table := range []string{"message", "chat", "document", "knowledge_base", "guest_session", "company_user", "company"} {
			gdb.Exec("DELETE FROM " + table)
		}
	})
	return gdb
}

func seedCompany(t *testing.T, gdb *gorm.DB, name string) *types.Company {
	t.Helper()
	company := &types.Company{
		ID:           uuid.New(),
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		Status:       types.CompanyStatusActive,
	}
	if err := gdb.Create(company).Error; err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return company
}

// fakeVectorStore records upserts per namespace in memory.
type fakeVectorStore struct {
	mu         sync.Mutex
	namespaces map[string][]pinecone.Chunk
	searchOut  []pinecone.Retrieved
	countErr   error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{namespaces: make(map[string][]pinecone.Chunk)}
}

func (f *fakeVectorStore) UpsertChunks(ctx context.Context, namespace, filename string, chunks []pinecone.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.namespaces[namespace] = append(f.namespaces[namespace], chunks...)
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]pinecone.Retrieved, error) {
	return f.searchOut, nil
}

func (f *fakeVectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.namespaces, namespace)
	return nil
}

func (f *fakeVectorStore) VectorCount(ctx context.Context, namespace string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.namespaces[namespace]), nil
}

// seed marks a namespace non-empty without going through an upload.
func (f *fakeVectorStore) seed(namespace string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.namespaces[namespace] = append(f.namespaces[namespace], pinecone.Chunk{Text: "seeded"})
}

func (f *fakeVectorStore) chunksIn(namespace string) []pinecone.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pinecone.Chunk(nil), f.namespaces[namespace]...)
}

// fakeEmbedder returns a fixed-size vector per input.
type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 2}
	}
	return out, nil
}

// fakeInvalidator records tenant evictions.
type fakeInvalidator struct {
	mu      sync.Mutex
	tenants []string
}

func (f *fakeInvalidator) Invalidate(tenantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants = append(f.tenants, tenantID)
}

func (f *fakeInvalidator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tenants)
}
