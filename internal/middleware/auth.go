package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/principal"
	"github.com/chatelio/chatelio-backend/internal/services"
)

const principalKey = "principal"

// RequireAuth verifies the bearer token and stashes the resolved principal in
// both the gin context and the request context.
func RequireAuth(auth services.AuthService, log *logger.Logger) gin.HandlerFunc {
	l := log.With("middleware", "auth")
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apierr.Code(apierr.ErrUnauthenticated)})
			return
		}
		p, err := auth.ResolvePrincipal(c.Request.Context(), token)
		if err != nil {
			l.Debug("principal resolution failed", "error", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apierr.Code(apierr.ErrUnauthenticated)})
			return
		}
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(principal.WithPrincipal(c.Request.Context(), *p))
		c.Next()
	}
}

// RequireCompany restricts a route group to company (admin) principals.
func RequireCompany() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil || !p.IsCompany() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": apierr.Code(apierr.ErrForbidden)})
			return
		}
		c.Next()
	}
}

// RequireUserOrGuest restricts a route group to end-user principals.
func RequireUserOrGuest() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil || p.IsCompany() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": apierr.Code(apierr.ErrForbidden)})
			return
		}
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) *principal.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*principal.Principal)
	return p
}
