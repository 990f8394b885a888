package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/clients/pinecone"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/pipeline"
	"github.com/chatelio/chatelio-backend/internal/principal"
	"github.com/chatelio/chatelio-backend/internal/repos"
	"github.com/chatelio/chatelio-backend/internal/types"
)

// GenerateRequest is one question aimed at the tenant's chatbot. A nil ChatID
// starts a new chat.
type GenerateRequest struct {
	ChatID  *uuid.UUID
	Message string
	Model   string
}

// Emitter receives the stream lifecycle. Implementations emit exactly one
// terminal event (End or Error) per request; the orchestrator guarantees it
// never calls both.
type Emitter interface {
	Start(chatID uuid.UUID, model string) error
	Chunk(text string) error
	End(messageID uuid.UUID, fullText string) error
	Error(code, message string) error
}

type GenerationService interface {
	// Generate runs the full exchange: ensure the tenant has knowledge, ensure
	// the chat, persist the human turn, stream the answer, and persist the ai
	// turn. The ai row is written even when the client disconnects or the
	// upstream stream dies, so the transcript never loses a half-finished
	// exchange.
	Generate(ctx context.Context, p *principal.Principal, req GenerateRequest, emit Emitter) error
}

type generationService struct {
	companies repos.CompanyRepo
	chats     ChatService
	knowledge KnowledgeService
	cache     *pipeline.Cache
	store     pinecone.VectorStore
	log       *logger.Logger
}

func NewGenerationService(
	companies repos.CompanyRepo,
	chats ChatService,
	knowledge KnowledgeService,
	cache *pipeline.Cache,
	store pinecone.VectorStore,
	log *logger.Logger,
) GenerationService {
	return &generationService{
		companies: companies,
		chats:     chats,
		knowledge: knowledge,
		cache:     cache,
		store:     store,
		log:       log.With("service", "generation"),
	}
}

func (s *generationService) Generate(ctx context.Context, p *principal.Principal, req GenerateRequest, emit Emitter) error {
	if p.IsCompany() {
		return apierr.ErrForbidden
	}
	if req.Message == "" || req.Model == "" {
		return apierr.ErrValidation
	}

	company, err := s.companies.GetByID(ctx, nil, p.CompanyID)
	if err != nil {
		return err
	}
	s.ensureKnowledge(ctx, company)

	chat, err := s.chats.EnsureChat(ctx, p, req.ChatID, deriveTitle(req.Message))
	if err != nil {
		return err
	}

	// The human turn must be durable before any tokens flow; if this write
	// fails the whole request fails and nothing streams.
	humanMsg, err := s.chats.AppendMessage(ctx, p.CompanyID, chat.ID, types.MessageRoleHuman, req.Message, 0)
	if err != nil {
		return err
	}

	handle, err := s.cache.Get(ctx, p.CompanyID.String(), req.Model)
	if err != nil {
		// The human row stays; the client learns the pipeline could not build.
		if emitErr := emit.Error(apierr.Code(err), err.Error()); emitErr != nil {
			s.log.Warn("error event not delivered", "error", emitErr.Error())
		}
		return err
	}

	if err := emit.Start(chat.ID, req.Model); err != nil {
		// Client already gone; still run the exchange so the transcript
		// records the answer.
		s.log.Debug("client disconnected before start event")
	}

	answer, streamErr := handle.Ask(ctx, chat.ID.String(), req.Message, func(delta string) error {
		if err := emit.Chunk(delta); err != nil {
			s.log.Debug("client disconnected mid-stream")
		}
		// Never abort generation on emit failure; accumulation continues so
		// the persisted answer is complete.
		return nil
	})

	// A failed stream that produced no text leaves only the human turn; an
	// empty ai row tells the reader nothing.
	var aiMsg *types.Message
	if answer != "" || streamErr == nil {
		aiMsg = s.finalize(ctx, p.CompanyID, chat.ID, answer, humanMsg.Timestamp)
	}

	if streamErr != nil {
		if emitErr := emit.Error(apierr.Code(streamErr), "generation failed"); emitErr != nil {
			s.log.Debug("error event not delivered")
		}
		return streamErr
	}
	var msgID uuid.UUID
	if aiMsg != nil {
		msgID = aiMsg.ID
	}
	if err := emit.End(msgID, answer); err != nil {
		s.log.Debug("end event not delivered")
	}
	return nil
}

// finalize persists the ai turn on a context detached from the request, so a
// client disconnect cannot cancel the write. One retry covers transient
// database hiccups.
func (s *generationService) finalize(ctx context.Context, companyID, chatID uuid.UUID, answer string, floor int64) *types.Message {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for attempt := 0; attempt < 2; attempt++ {
		msg, err := s.chats.AppendMessage(detached, companyID, chatID, types.MessageRoleAI, answer, floor)
		if err == nil {
			return msg
		}
		s.log.Error("ai turn persist failed", "chat_id", chatID.String(), "attempt", attempt, "error", err.Error())
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

// ensureKnowledge seeds fallback content when the tenant namespace is empty,
// so a brand-new tenant's first question still retrieves something. Probe
// failures are non-fatal.
func (s *generationService) ensureKnowledge(ctx context.Context, company *types.Company) {
	count, err := s.store.VectorCount(ctx, company.Namespace())
	if err != nil {
		s.log.Warn("namespace probe failed", "company_id", company.ID.String(), "error", err.Error())
		return
	}
	if count > 0 {
		return
	}
	if err := s.knowledge.SeedFallback(ctx, company); err != nil {
		s.log.Warn("fallback seeding failed", "company_id", company.ID.String(), "error", err.Error())
	}
}

func deriveTitle(message string) string {
	const max = 50
	runes := []rune(message)
	if len(runes) <= max {
		return message
	}
	return string(runes[:max]) + "..."
}
