package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/middleware"
	"github.com/chatelio/chatelio-backend/internal/services"
)

// KnowledgeHandler serves the company-side document CRUD. All routes sit
// behind RequireCompany, so the principal here is always the tenant admin.
type KnowledgeHandler struct {
	knowledge services.KnowledgeService
	log       *logger.Logger
}

func NewKnowledgeHandler(knowledge services.KnowledgeService, log *logger.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge, log: log.With("handler", "knowledge")}
}

type uploadTextRequest struct {
	Filename string `json:"filename" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// UploadText accepts raw text as JSON.
func (h *KnowledgeHandler) UploadText(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	var req uploadTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	doc, err := h.knowledge.UploadDocument(c.Request.Context(), p.CompanyID, req.Filename, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"document": doc})
}

// UploadFile accepts a multipart upload under the "file" field.
func (h *KnowledgeHandler) UploadFile(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	if fileHeader.Size > services.MaxDocumentBytes {
		fail(c, apierr.ErrValidation)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, services.MaxDocumentBytes+1))
	if err != nil {
		fail(c, err)
		return
	}
	doc, err := h.knowledge.UploadDocument(c.Request.Context(), p.CompanyID, fileHeader.Filename, string(content))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"document": doc})
}

func (h *KnowledgeHandler) List(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	docs, err := h.knowledge.ListDocuments(c.Request.Context(), p.CompanyID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"documents": docs})
}

// Download returns the stored document text.
func (h *KnowledgeHandler) Download(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	docID, err := uuid.Parse(c.Param("document_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	doc, err := h.knowledge.GetDocument(c.Request.Context(), p.CompanyID, docID)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	c.Data(http.StatusOK, doc.ContentType, []byte(doc.Content))
}

func (h *KnowledgeHandler) Delete(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	docID, err := uuid.Parse(c.Param("document_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	if err := h.knowledge.DeleteDocument(c.Request.Context(), p.CompanyID, docID); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *KnowledgeHandler) Clear(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	if err := h.knowledge.ClearKnowledgeBase(c.Request.Context(), p.CompanyID); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"cleared": true})
}
