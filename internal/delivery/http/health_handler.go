package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	db     *pgxpool.Pool
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db *pgxpool.Pool, rdb *goredis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, logger: logger}
}

// Health handles GET /api/v1/health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	services := gin.H{"postgres": "ok", "redis": "ok"}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			services["postgres"] = "down"
			status = http.StatusServiceUnavailable
		}
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			services["redis"] = "down"
			status = http.StatusServiceUnavailable
		}
	}

	body := gin.H{"status": "ok", "services": services}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
