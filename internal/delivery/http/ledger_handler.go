package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/delivery/http/middleware"
	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/usecase"
)

// LedgerHandler serves cursor-paginated reads of the execution ledger.
type LedgerHandler struct {
	listUC *usecase.ListLedgerUsecase
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(listUC *usecase.ListLedgerUsecase, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{listUC: listUC, logger: logger}
}

// List handles GET /api/v1/executions
//
// Query parameters: limit, cursor_created_at (unix milliseconds), and
// cursor_tie. The cursor pair is opaque to clients: it is whatever the
// previous page's next_cursor carried.
func (h *LedgerHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	limit, _ := strconv.Atoi(c.Query("limit"))

	var cursor *domain.Cursor
	if raw := c.Query("cursor_created_at"); raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor_created_at"})
			return
		}
		tie, err := strconv.ParseInt(c.DefaultQuery("cursor_tie", "0"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor_tie"})
			return
		}
		cursor = &domain.Cursor{
			CreatedAt: time.UnixMilli(millis).UTC(),
			TieBreak:  tie,
		}
	}

	page, err := h.listUC.Execute(c.Request.Context(), userID, cursor, limit)
	if err != nil {
		h.logger.Error("Ledger list failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, page)
}
