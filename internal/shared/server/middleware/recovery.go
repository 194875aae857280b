package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"statuscert-backend/internal/shared/metrics"
	"statuscert-backend/internal/shared/server/respond"
	"statuscert-backend/internal/shared/telemetry"
)

// Recovery converts panics into a standardized 500 response. The stack is
// logged and counted, never leaked to the caller.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			metrics.IncPanics()
			telemetry.Error("panic", map[string]any{
				"request_id": RequestIDFromContext(c),
				"firm_id":    FirmIDFromContext(c),
				"error":      rec,
				"stack":      string(debug.Stack()),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
			})
			respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
			c.Abort()
		}()
		c.Next()
	}
}
