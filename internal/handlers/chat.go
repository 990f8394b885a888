package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/middleware"
	"github.com/chatelio/chatelio-backend/internal/services"
	"github.com/chatelio/chatelio-backend/internal/sse"
)

// ChatHandler serves chat CRUD plus the streaming send endpoint.
type ChatHandler struct {
	chats      services.ChatService
	generation services.GenerationService
	log        *logger.Logger
}

func NewChatHandler(chats services.ChatService, generation services.GenerationService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, generation: generation, log: log.With("handler", "chat")}
}

func (h *ChatHandler) List(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	chats, err := h.chats.ListChats(c.Request.Context(), p)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"chats": chats})
}

func (h *ChatHandler) History(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	chat, msgs, err := h.chats.History(c.Request.Context(), p, chatID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"chat": chat, "messages": msgs})
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *ChatHandler) Rename(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	if err := h.chats.Rename(c.Request.Context(), p, chatID, req.Title); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"renamed": true})
}

func (h *ChatHandler) Delete(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	if err := h.chats.Delete(c.Request.Context(), p, chatID); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

type sendRequest struct {
	ChatID  *string `json:"chat_id"`
	Message string  `json:"message" binding:"required"`
	Model   string  `json:"model" binding:"required"`
}

// Send runs one exchange over SSE. Errors before the stream opens surface as
// plain JSON; once the stream is open they arrive as an error event.
func (h *ChatHandler) Send(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	var chatID *uuid.UUID
	if req.ChatID != nil && *req.ChatID != "" {
		id, err := uuid.Parse(*req.ChatID)
		if err != nil {
			fail(c, apierr.ErrValidation)
			return
		}
		chatID = &id
	}

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		fail(c, err)
		return
	}
	genReq := services.GenerateRequest{ChatID: chatID, Message: req.Message, Model: req.Model}
	if err := h.generation.Generate(c.Request.Context(), p, genReq, writer); err != nil {
		// Failures before the first event never produced a terminal; the
		// writer drops this when one already went out.
		msg := err.Error()
		if apierr.Status(err) >= 500 {
			msg = "internal error"
		}
		_ = writer.Error(apierr.Code(err), msg)
		h.log.Warn("generation ended with error", "error", err.Error())
	}
}
