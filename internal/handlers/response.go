package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/chatelio/chatelio-backend/internal/apierr"
)

// fail maps a service error onto the wire: taxonomy status, stable code, and
// the message only when it is safe to show.
func fail(c *gin.Context, err error) {
	status := apierr.Status(err)
	body := gin.H{"error": apierr.Code(err)}
	if status < 500 {
		body["message"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

func ok(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
