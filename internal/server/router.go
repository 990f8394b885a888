package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chatelio/chatelio-backend/internal/handlers"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/middleware"
	"github.com/chatelio/chatelio-backend/internal/services"
	"github.com/chatelio/chatelio-backend/internal/utils"
)

type Handlers struct {
	Health    *handlers.HealthHandler
	Auth      *handlers.AuthHandler
	User      *handlers.UserHandler
	Knowledge *handlers.KnowledgeHandler
	Chat      *handlers.ChatHandler
}

func NewRouter(h Handlers, auth services.AuthService, log *logger.Logger) *gin.Engine {
	if utils.GetEnv("GIN_MODE", "", log) == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("chatelio-backend"))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.Health.Healthz)

	api := r.Group("/api")

	// Public: tenant onboarding and per-tenant entry points.
	api.POST("/auth/company/register", h.Auth.RegisterCompany)
	api.POST("/auth/company/login", h.Auth.LoginCompany)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.POST("/companies/:company_id/users/register", h.User.Register)
	api.POST("/companies/:company_id/users/login", h.User.Login)
	api.POST("/companies/:company_id/guest", h.User.CreateGuestSession)

	authed := api.Group("")
	authed.Use(middleware.RequireAuth(auth, log))

	authed.POST("/guest/convert", h.User.ConvertGuest)

	company := authed.Group("/knowledge")
	company.Use(middleware.RequireCompany())
	company.POST("/text", h.Knowledge.UploadText)
	company.POST("/file", h.Knowledge.UploadFile)
	company.GET("", h.Knowledge.List)
	company.GET("/:document_id", h.Knowledge.Download)
	company.DELETE("/:document_id", h.Knowledge.Delete)
	company.DELETE("", h.Knowledge.Clear)

	chats := authed.Group("/chats")
	chats.Use(middleware.RequireUserOrGuest())
	chats.GET("", h.Chat.List)
	chats.POST("/send", h.Chat.Send)
	chats.GET("/:chat_id", h.Chat.History)
	chats.PUT("/:chat_id/title", h.Chat.Rename)
	chats.DELETE("/:chat_id", h.Chat.Delete)

	return r
}
