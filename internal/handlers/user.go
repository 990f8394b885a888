package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/middleware"
	"github.com/chatelio/chatelio-backend/internal/principal"
	"github.com/chatelio/chatelio-backend/internal/services"
)

// UserHandler serves end-user registration and the guest lifecycle. Company
// identity comes from the path so the widget can hit a tenant without any
// prior auth.
type UserHandler struct {
	auth services.AuthService
	log  *logger.Logger
}

func NewUserHandler(auth services.AuthService, log *logger.Logger) *UserHandler {
	return &UserHandler{auth: auth, log: log.With("handler", "user")}
}

type registerUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

func (h *UserHandler) Register(c *gin.Context) {
	companyID, err := uuid.Parse(c.Param("company_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	user, tokens, err := h.auth.RegisterUser(c.Request.Context(), companyID, req.Name, req.Email)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"user": user, "tokens": tokens})
}

type loginUserRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *UserHandler) Login(c *gin.Context) {
	companyID, err := uuid.Parse(c.Param("company_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	var req loginUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	user, tokens, err := h.auth.LoginUser(c.Request.Context(), companyID, req.Email)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user": user, "tokens": tokens})
}

func (h *UserHandler) CreateGuestSession(c *gin.Context) {
	companyID, err := uuid.Parse(c.Param("company_id"))
	if err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	session, tokens, err := h.auth.CreateGuestSession(c.Request.Context(), companyID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"session": session, "tokens": tokens})
}

type convertGuestRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// ConvertGuest upgrades the calling guest principal to a registered user.
func (h *UserHandler) ConvertGuest(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	if p == nil || p.Kind != principal.KindGuest {
		fail(c, apierr.ErrForbidden)
		return
	}
	var req convertGuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.ErrValidation)
		return
	}
	user, tokens, err := h.auth.ConvertGuest(c.Request.Context(), p.OwnerID, req.Name, req.Email)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user": user, "tokens": tokens})
}
