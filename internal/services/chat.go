package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/pipeline"
	"github.com/chatelio/chatelio-backend/internal/principal"
	"github.com/chatelio/chatelio-backend/internal/repos"
	"github.com/chatelio/chatelio-backend/internal/types"
)

const defaultChatTitle = "New Chat"

type ChatService interface {
	// ListChats returns the caller's live chats, creating a default one when
	// none exist so clients always have somewhere to send the first message.
	ListChats(ctx context.Context, p *principal.Principal) ([]types.Chat, error)
	CreateChat(ctx context.Context, p *principal.Principal, title string) (*types.Chat, error)
	// EnsureChat resolves chatID to an owned, live chat, or creates a new one
	// when chatID is nil.
	EnsureChat(ctx context.Context, p *principal.Principal, chatID *uuid.UUID, title string) (*types.Chat, error)
	// History returns the full transcript. Soft-deleted chats stay readable by
	// direct id; they only vanish from listings.
	History(ctx context.Context, p *principal.Principal, chatID uuid.UUID) (*types.Chat, []types.Message, error)
	Rename(ctx context.Context, p *principal.Principal, chatID uuid.UUID, title string) error
	Delete(ctx context.Context, p *principal.Principal, chatID uuid.UUID) error
	// AppendMessage persists one transcript row. The stored timestamp is
	// clamped strictly above floor so an exchange's rows always order.
	AppendMessage(ctx context.Context, companyID, chatID uuid.UUID, role, content string, floor int64) (*types.Message, error)
	HistoryProvider() pipeline.HistoryProvider
}

type chatService struct {
	chats    repos.ChatRepo
	messages repos.MessageRepo
	history  int
	log      *logger.Logger
}

func NewChatService(chats repos.ChatRepo, messages repos.MessageRepo, historyLimit int, log *logger.Logger) ChatService {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &chatService{
		chats:    chats,
		messages: messages,
		history:  historyLimit,
		log:      log.With("service", "chat"),
	}
}

func owner(p *principal.Principal) repos.ChatOwner {
	switch p.Kind {
	case principal.KindUser:
		id := p.OwnerID
		return repos.ChatOwner{UserID: &id}
	case principal.KindGuest:
		id := p.OwnerID
		return repos.ChatOwner{SessionID: &id}
	}
	return repos.ChatOwner{}
}

func (s *chatService) ListChats(ctx context.Context, p *principal.Principal) ([]types.Chat, error) {
	if p.IsCompany() {
		return nil, apierr.ErrForbidden
	}
	chats, err := s.chats.ListByOwner(ctx, nil, p.CompanyID, owner(p))
	if err != nil {
		return nil, err
	}
	if len(chats) > 0 {
		return chats, nil
	}
	chat, err := s.CreateChat(ctx, p, defaultChatTitle)
	if err != nil {
		return nil, err
	}
	return []types.Chat{*chat}, nil
}

func (s *chatService) CreateChat(ctx context.Context, p *principal.Principal, title string) (*types.Chat, error) {
	if p.IsCompany() {
		return nil, apierr.ErrForbidden
	}
	if title == "" {
		title = defaultChatTitle
	}
	chat := &types.Chat{
		ID:        uuid.New(),
		CompanyID: p.CompanyID,
		Title:     title,
		IsGuest:   p.IsGuest(),
	}
	o := owner(p)
	chat.UserID = o.UserID
	chat.SessionID = o.SessionID
	if err := s.chats.Create(ctx, nil, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *chatService) EnsureChat(ctx context.Context, p *principal.Principal, chatID *uuid.UUID, title string) (*types.Chat, error) {
	if chatID == nil {
		return s.CreateChat(ctx, p, title)
	}
	chat, err := s.getOwned(ctx, p, *chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsDeleted {
		return nil, apierr.ErrNotFound
	}
	return chat, nil
}

func (s *chatService) History(ctx context.Context, p *principal.Principal, chatID uuid.UUID) (*types.Chat, []types.Message, error) {
	chat, err := s.getOwned(ctx, p, chatID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListByChat(ctx, nil, p.CompanyID, chatID)
	if err != nil {
		return nil, nil, err
	}
	return chat, msgs, nil
}

func (s *chatService) Rename(ctx context.Context, p *principal.Principal, chatID uuid.UUID, title string) error {
	if title == "" {
		return apierr.ErrValidation
	}
	if _, err := s.getOwned(ctx, p, chatID); err != nil {
		return err
	}
	return s.chats.Rename(ctx, nil, p.CompanyID, chatID, title)
}

func (s *chatService) Delete(ctx context.Context, p *principal.Principal, chatID uuid.UUID) error {
	if _, err := s.getOwned(ctx, p, chatID); err != nil {
		return err
	}
	return s.chats.SoftDelete(ctx, nil, p.CompanyID, chatID)
}

func (s *chatService) AppendMessage(ctx context.Context, companyID, chatID uuid.UUID, role, content string, floor int64) (*types.Message, error) {
	ts := time.Now().UnixNano()
	if ts <= floor {
		ts = floor + 1
	}
	msg := &types.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		CompanyID: companyID,
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
	if err := s.messages.Create(ctx, nil, msg); err != nil {
		return nil, err
	}
	if err := s.chats.Touch(ctx, nil, chatID); err != nil {
		s.log.Warn("chat touch failed", "error", err.Error())
	}
	return msg, nil
}

// getOwned enforces tenant and owner scoping in one place. Cross-tenant and
// cross-owner lookups both come back as not-found.
func (s *chatService) getOwned(ctx context.Context, p *principal.Principal, chatID uuid.UUID) (*types.Chat, error) {
	chat, err := s.chats.GetByID(ctx, nil, p.CompanyID, chatID)
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case principal.KindCompany:
		return chat, nil
	case principal.KindUser:
		if chat.UserID != nil && *chat.UserID == p.OwnerID {
			return chat, nil
		}
	case principal.KindGuest:
		if chat.SessionID != nil && *chat.SessionID == p.OwnerID {
			return chat, nil
		}
	}
	return nil, apierr.ErrNotFound
}

func (s *chatService) HistoryProvider() pipeline.HistoryProvider {
	return &historyProvider{messages: s.messages, limit: s.history}
}

// historyProvider adapts the message repo to the pipeline. Tenant and chat ids
// arrive per call; nothing is captured at build time.
type historyProvider struct {
	messages repos.MessageRepo
	limit    int
}

func (h *historyProvider) RecentTurns(ctx context.Context, tenantID, chatID string) ([]pipeline.Turn, error) {
	companyID, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, err
	}
	chatUUID, err := uuid.Parse(chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := h.messages.ListRecent(ctx, nil, companyID, chatUUID, h.limit)
	if err != nil {
		return nil, err
	}
	turns := make([]pipeline.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != types.MessageRoleHuman && m.Role != types.MessageRoleAI {
			continue
		}
		turns = append(turns, pipeline.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}
