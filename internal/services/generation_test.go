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
	"github.com/chatelio/chatelio-backend/internal/clients/pinecone"
	"github.com/chatelio/chatelio-backend/internal/pipeline"
	"github.com/chatelio/chatelio-backend/internal/principal"
	"github.com/chatelio/chatelio-backend/internal/repos"
	"github.com/chatelio/chatelio-backend/internal/types"
)

type stubModel struct {
	deltas    []string
	streamErr error
}

func (m *stubModel) Complete(ctx context.Context, system string, turns []pipeline.Turn) (string, error) {
	return "condensed", nil
}

func (m *stubModel) Stream(ctx context.Context, system string, turns []pipeline.Turn, onDelta func(string) error) error {
	for _, d := range m.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return m.streamErr
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	return []string{"some context"}, nil
}

type fakeKnowledge struct {
	seeded []uuid.UUID
}

func (f *fakeKnowledge) UploadDocument(ctx context.Context, companyID uuid.UUID, filename, content string) (*types.Document, error) {
	return nil, nil
}
func (f *fakeKnowledge) ListDocuments(ctx context.Context, companyID uuid.UUID) ([]types.Document, error) {
	return nil, nil
}
func (f *fakeKnowledge) GetDocument(ctx context.Context, companyID, documentID uuid.UUID) (*types.Document, error) {
	return nil, nil
}
func (f *fakeKnowledge) DeleteDocument(ctx context.Context, companyID, documentID uuid.UUID) error {
	return nil
}
func (f *fakeKnowledge) ClearKnowledgeBase(ctx context.Context, companyID uuid.UUID) error {
	return nil
}
func (f *fakeKnowledge) SeedFallback(ctx context.Context, company *types.Company) error {
	f.seeded = append(f.seeded, company.ID)
	return nil
}
func (f *fakeKnowledge) ReconcilePending(ctx context.Context) error { return nil }

type recordingEmitter struct {
	started   bool
	chatID    uuid.UUID
	chunks    []string
	endText   string
	errCode   string
	terminals int
}

func (e *recordingEmitter) Start(chatID uuid.UUID, model string) error {
	e.started = true
	e.chatID = chatID
	return nil
}
func (e *recordingEmitter) Chunk(text string) error {
	e.chunks = append(e.chunks, text)
	return nil
}
func (e *recordingEmitter) End(messageID uuid.UUID, fullText string) error {
	e.endText = fullText
	e.terminals++
	return nil
}
func (e *recordingEmitter) Error(code, message string) error {
	e.errCode = code
	e.terminals++
	return nil
}

type generationFixture struct {
	svc       GenerationService
	chats     ChatService
	gdb       *gorm.DB
	store     *fakeVectorStore
	knowledge *fakeKnowledge
	model     *stubModel
}

func newGenerationFixture(t *testing.T, model *stubModel, buildErr error) *generationFixture {
	t.Helper()
	gdb := testDB(t)
	log := testLogger(t)
	store := newFakeVectorStore()
	knowledge := &fakeKnowledge{}
	chatSvc := NewChatService(repos.NewChatRepo(gdb, log), repos.NewMessageRepo(gdb, log), 10, log)
	history := chatSvc.HistoryProvider()

	cache := pipeline.NewCache(func(ctx context.Context, tenantID, mdl string) (*pipeline.Handle, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		return pipeline.NewHandle(tenantID, mdl, model, stubRetriever{}, history, 4, log), nil
	}, log)

	svc := NewGenerationService(repos.NewCompanyRepo(gdb, log), chatSvc, knowledge, cache, store, log)
	return &generationFixture{svc: svc, chats: chatSvc, gdb: gdb, store: store, knowledge: knowledge, model: model}
}

func (f *generationFixture) messages(t *testing.T, chatID uuid.UUID) []types.Message {
	t.Helper()
	var msgs []types.Message
	if err := f.gdb.Where("chat_id = ?", chatID).Order("timestamp ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("load messages: %v", err)
	}
	return msgs
}

func TestGenerateStreamsAndPersistsExchange(t *testing.T) {
	f := newGenerationFixture(t, &stubModel{deltas: []string{"Hi ", "there"}}, nil)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "genco")
	// Non-empty namespace, so no fallback seeding.
	f.store.seed(types.CompanyNamespace(company.ID))

	p := userPrincipal(company.ID)
	emit := &recordingEmitter{}
	err := f.svc.Generate(ctx, p, GenerateRequest{Message: "hello bot", Model: "gpt-4o-mini"}, emit)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !emit.started || emit.terminals != 1 || emit.endText != "Hi there" {
		t.Fatalf("unexpected stream events: %+v", emit)
	}
	msgs := f.messages(t, emit.chatID)
	if len(msgs) != 2 {
		t.Fatalf("expected human+ai rows, got %d", len(msgs))
	}
	if msgs[0].Role != types.MessageRoleHuman || msgs[1].Role != types.MessageRoleAI {
		t.Fatalf("wrong roles: %+v", msgs)
	}
	if msgs[1].Timestamp <= msgs[0].Timestamp {
		t.Fatalf("ai row does not follow human row")
	}
	if msgs[1].Content != "Hi there" {
		t.Fatalf("persisted answer = %q", msgs[1].Content)
	}
	if len(f.knowledge.seeded) != 0 {
		t.Fatalf("fallback seeded despite non-empty namespace")
	}
}

func TestGenerateSeedsFallbackForEmptyNamespace(t *testing.T) {
	f := newGenerationFixture(t, &stubModel{deltas: []string{"ok"}}, nil)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "emptyco")

	p := guestPrincipal(company.ID)
	emit := &recordingEmitter{}
	if err := f.svc.Generate(ctx, p, GenerateRequest{Message: "anyone home?", Model: "gpt-4o-mini"}, emit); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(f.knowledge.seeded) != 1 || f.knowledge.seeded[0] != company.ID {
		t.Fatalf("fallback not seeded for empty namespace: %v", f.knowledge.seeded)
	}
}

func TestGeneratePipelineBuildFailureKeepsHumanTurn(t *testing.T) {
	buildErr := &apierr.PipelineBuildError{Model: "nope", Reason: fmt.Errorf("model not registered")}
	f := newGenerationFixture(t, nil, buildErr)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "buildfailco")

	p := userPrincipal(company.ID)
	emit := &recordingEmitter{}
	err := f.svc.Generate(ctx, p, GenerateRequest{Message: "use the bad model", Model: "nope"}, emit)
	var pbe *apierr.PipelineBuildError
	if !errors.As(err, &pbe) {
		t.Fatalf("expected PipelineBuildError, got %v", err)
	}
	if emit.terminals != 1 || emit.errCode != "pipeline_build_failed" {
		t.Fatalf("expected one error terminal, got %+v", emit)
	}

	// The human turn survives the failure.
	var msgs []types.Message
	if err := f.gdb.Where("company_id = ?", company.ID).Find(&msgs).Error; err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != types.MessageRoleHuman {
		t.Fatalf("expected exactly the human row, got %+v", msgs)
	}
}

func TestGenerateStreamFailurePersistsPartialAnswer(t *testing.T) {
	f := newGenerationFixture(t, &stubModel{deltas: []string{"partial "}, streamErr: fmt.Errorf("upstream died")}, nil)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "partialco")

	p := userPrincipal(company.ID)
	emit := &recordingEmitter{}
	if err := f.svc.Generate(ctx, p, GenerateRequest{Message: "q", Model: "gpt-4o-mini"}, emit); err == nil {
		t.Fatalf("expected stream error")
	}
	if emit.terminals != 1 || emit.errCode == "" {
		t.Fatalf("expected exactly one error terminal, got %+v", emit)
	}

	msgs := f.messages(t, emit.chatID)
	if len(msgs) != 2 {
		t.Fatalf("expected both rows despite stream failure, got %d", len(msgs))
	}
	if msgs[1].Content != "partial " {
		t.Fatalf("partial answer not persisted: %q", msgs[1].Content)
	}
}

func TestGenerateStreamFailureWithoutTokensKeepsOnlyHumanTurn(t *testing.T) {
	f := newGenerationFixture(t, &stubModel{streamErr: fmt.Errorf("upstream refused")}, nil)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "notokensco")

	p := userPrincipal(company.ID)
	emit := &recordingEmitter{}
	if err := f.svc.Generate(ctx, p, GenerateRequest{Message: "q", Model: "gpt-4o-mini"}, emit); err == nil {
		t.Fatalf("expected stream error")
	}
	if emit.terminals != 1 || emit.errCode == "" {
		t.Fatalf("expected exactly one error terminal, got %+v", emit)
	}

	// No tokens arrived, so no ai row is written; the transcript holds the
	// human turn alone.
	msgs := f.messages(t, emit.chatID)
	if len(msgs) != 1 || msgs[0].Role != types.MessageRoleHuman {
		t.Fatalf("expected only the human row, got %+v", msgs)
	}
}

// contextEchoModel answers from whatever retrieved context reached the system
// prompt, so tenant isolation shows up in the generated text.
type contextEchoModel struct{}

func (contextEchoModel) Complete(ctx context.Context, system string, turns []pipeline.Turn) (string, error) {
	return "condensed", nil
}

func (contextEchoModel) Stream(ctx context.Context, system string, turns []pipeline.Turn, onDelta func(string) error) error {
	if strings.Contains(system, "30 days") {
		return onDelta("Refunds are accepted within 30 days.")
	}
	return onDelta("I don't have that information.")
}

// namespaceRetriever reads the fake index for the tenant it was built for,
// the same shape the real build func produces.
type namespaceRetriever struct {
	store     *fakeVectorStore
	namespace string
}

func (r namespaceRetriever) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	var texts []string
	for _, ch := range r.store.chunksIn(r.namespace) {
		texts = append(texts, ch.Text)
	}
	return texts, nil
}

func TestTwoTenantsGetIsolatedAnswers(t *testing.T) {
	gdb := testDB(t)
	log := testLogger(t)
	store := newFakeVectorStore()
	knowledge := &fakeKnowledge{}
	chatSvc := NewChatService(repos.NewChatRepo(gdb, log), repos.NewMessageRepo(gdb, log), 10, log)
	history := chatSvc.HistoryProvider()

	cache := pipeline.NewCache(func(ctx context.Context, tenantID, mdl string) (*pipeline.Handle, error) {
		companyID, err := uuid.Parse(tenantID)
		if err != nil {
			return nil, err
		}
		retriever := namespaceRetriever{store: store, namespace: types.CompanyNamespace(companyID)}
		return pipeline.NewHandle(tenantID, mdl, contextEchoModel{}, retriever, history, 4, log), nil
	}, log)
	svc := NewGenerationService(repos.NewCompanyRepo(gdb, log), chatSvc, knowledge, cache, store, log)
	ctx := context.Background()

	companyA := seedCompany(t, gdb, "tenant-a-co")
	companyB := seedCompany(t, gdb, "tenant-b-co")
	refundChunk := pinecone.Chunk{Text: "Refund policy: full refund within 30 days of purchase."}
	if err := store.UpsertChunks(ctx, types.CompanyNamespace(companyA.ID), "policy.txt", []pinecone.Chunk{refundChunk}); err != nil {
		t.Fatalf("seed tenant a: %v", err)
	}

	ask := func(companyID uuid.UUID) *recordingEmitter {
		t.Helper()
		emit := &recordingEmitter{}
		p := userPrincipal(companyID)
		if err := svc.Generate(ctx, p, GenerateRequest{Message: "what is the refund policy?", Model: "gpt-4o-mini"}, emit); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return emit
	}

	answerA := ask(companyA.ID)
	answerB := ask(companyB.ID)

	if !strings.Contains(answerA.endText, "30 days") {
		t.Fatalf("tenant a should answer from its document, got %q", answerA.endText)
	}
	if strings.Contains(answerB.endText, "30 days") {
		t.Fatalf("tenant a's document leaked into tenant b's answer: %q", answerB.endText)
	}
	// Only the empty tenant got fallback seeding.
	if len(knowledge.seeded) != 1 || knowledge.seeded[0] != companyB.ID {
		t.Fatalf("fallback seeding wrong: %v", knowledge.seeded)
	}
}

func TestGenerateRejectsCompanyPrincipal(t *testing.T) {
	f := newGenerationFixture(t, &stubModel{}, nil)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "adminco")

	admin := &principal.Principal{Kind: principal.KindCompany, CompanyID: company.ID, OwnerID: company.ID}
	err := f.svc.Generate(ctx, admin, GenerateRequest{Message: "hi", Model: "gpt-4o-mini"}, &recordingEmitter{})
	if !errors.Is(err, apierr.ErrForbidden) {
		t.Fatalf("company principal should be forbidden, got %v", err)
	}
}

func TestGenerateContinuesExistingChat(t *testing.T) {
	f := newGenerationFixture(t, &stubModel{deltas: []string{"second answer"}}, nil)
	ctx := context.Background()
	company := seedCompany(t, f.gdb, "continueco")

	p := userPrincipal(company.ID)
	chat, err := f.chats.CreateChat(ctx, p, "ongoing")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	emit := &recordingEmitter{}
	if err := f.svc.Generate(ctx, p, GenerateRequest{ChatID: &chat.ID, Message: "follow up", Model: "gpt-4o-mini"}, emit); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if emit.chatID != chat.ID {
		t.Fatalf("exchange landed in chat %s, want %s", emit.chatID, chat.ID)
	}

	// Someone else's chat id is rejected before any row is written.
	outsider := userPrincipal(company.ID)
	err = f.svc.Generate(ctx, outsider, GenerateRequest{ChatID: &chat.ID, Message: "mine now", Model: "gpt-4o-mini"}, &recordingEmitter{})
	if !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("foreign chat id should be not-found, got %v", err)
	}
}
