package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cnpj-relay-go/internal/auth"
)

const userIDKey = "user_id"

// RequireUser resolves the bearer token and stores the caller's user id in
// the gin context.
func (h *Handlers) RequireUser(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization required"})
		return
	}

	userID, err := h.resolver.Resolve(c.Request.Context(), auth.BearerToken(header))
	if err != nil || userID == "" {
		logrus.WithError(err).Warn("Auth error")
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid authorization"})
		return
	}

	c.Set(userIDKey, userID)
	c.Next()
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
