package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/delivery/http/middleware"
	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/usecase"
)

const idempotencyKeyHeader = "Idempotency-Key"

// SubmissionHandler handles HTTP requests for code submissions.
type SubmissionHandler struct {
	submitUC *usecase.SubmitJobUsecase
	logger   *zap.Logger
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(submitUC *usecase.SubmitJobUsecase, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submitUC: submitUC,
		logger:   logger,
	}
}

// Submit handles POST /api/v1/executions
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req domain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}
	req.UserID = c.GetString(middleware.UserIDKey)
	req.IdempotencyKey = c.GetHeader(idempotencyKeyHeader)

	resp, err := h.submitUC.Execute(c.Request.Context(), &req)
	if err != nil {
		var dup *domain.DuplicateError
		var quota *domain.QuotaExceededError
		switch {
		case errors.As(err, &dup):
			c.JSON(http.StatusConflict, gin.H{
				"error":  "Duplicate request with same idempotency key",
				"status": dup.Record.Status,
				"job_id": dup.Record.JobID,
			})
		case errors.As(err, &quota):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Token limit exceeded",
				"used":  quota.TokenUsed,
				"limit": quota.MonthlyLimit,
			})
		case errors.Is(err, domain.ErrEmptyCode),
			errors.Is(err, domain.ErrInvalidLanguage),
			errors.Is(err, domain.ErrInvalidKind),
			errors.Is(err, domain.ErrMissingIdempotencyKey),
			errors.Is(err, domain.ErrMissingClientID):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrPayloadTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrPublishFailed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		default:
			h.logger.Error("Submit failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, resp)
}
