package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"statuscert-backend/internal/shared/server/respond"
)

const (
	firmIDKey  = "firmId"
	actorIDKey = "actorId"
)

// FirmAuth validates the service token and requires a firm scope on every
// request. Identity itself is established upstream (the auth gateway); this
// middleware only enforces that callers arrive firm-scoped.
func FirmAuth(serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		if serviceToken != "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if !strings.HasPrefix(authHeader, "Bearer ") ||
				subtle.ConstantTimeCompare([]byte(token), []byte(serviceToken)) != 1 {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
		}

		firmID := strings.TrimSpace(c.GetHeader("X-Firm-Id"))
		if firmID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "firm scope is required", nil)
			return
		}
		c.Set(firmIDKey, firmID)

		if actorID := strings.TrimSpace(c.GetHeader("X-Actor-Id")); actorID != "" {
			c.Set(actorIDKey, actorID)
		}
		c.Next()
	}
}

// FirmIDFromContext returns the firm scope set by FirmAuth.
func FirmIDFromContext(c *gin.Context) string {
	return c.GetString(firmIDKey)
}

// ActorIDFromContext returns the acting user id forwarded by the gateway.
func ActorIDFromContext(c *gin.Context) string {
	return c.GetString(actorIDKey)
}
