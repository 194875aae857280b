package billing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"statuscert-backend/internal/entitlements"
	"statuscert-backend/internal/shared/server/middleware"
	"statuscert-backend/internal/shared/server/respond"
)

// Handler serves the entitlement summary route.
type Handler struct {
	Service *Service
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/entitlements", h.get)
}

func (h *Handler) get(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)

	state, err := h.Service.StateFor(c.Request.Context(), firmID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load entitlements", nil)
		return
	}
	respond.OK(c, entitlements.Summarize(state))
}
