package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/delivery/http/middleware"
	"github.com/conduit-run/conduit/internal/usecase"
)

// QuotaHandler serves the token quota query endpoint.
type QuotaHandler struct {
	meter  *usecase.QuotaMeter
	logger *zap.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(meter *usecase.QuotaMeter, logger *zap.Logger) *QuotaHandler {
	return &QuotaHandler{meter: meter, logger: logger}
}

// Get handles GET /api/v1/quota
func (h *QuotaHandler) Get(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	state, err := h.meter.State(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Quota query failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, state)
}
