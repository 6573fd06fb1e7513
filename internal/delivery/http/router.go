package http

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/delivery/http/middleware"
	"github.com/conduit-run/conduit/internal/relay"
	"github.com/conduit-run/conduit/internal/usecase"
)

const maxBodyBytes = 2 << 20 // 2 MB: 1 MB of code plus JSON framing

// RouterDeps carries everything the router needs to wire its handlers.
type RouterDeps struct {
	SubmitUC        *usecase.SubmitJobUsecase
	ListUC          *usecase.ListLedgerUsecase
	Meter           *usecase.QuotaMeter
	Hub             *relay.Hub
	Logger          *zap.Logger
	RateLimitPerMin int
	DBPool          *pgxpool.Pool
	Redis           *goredis.Client
}

// NewRouter creates and configures the Gin router with all routes and
// middleware.
func NewRouter(deps *RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())

	// Metrics endpoint (no auth, no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Health check (no auth)
		healthHandler := NewHealthHandler(deps.DBPool, deps.Redis, deps.Logger)
		v1.GET("/health", healthHandler.Health)

		// Real-time channel: identity travels in the client_id the caller
		// chose, not in headers, so the upgrade stays auth-free.
		wsHandler := NewWebSocketHandler(deps.Hub, deps.Logger)
		v1.GET("/ws", wsHandler.Stream)

		authed := v1.Group("")
		authed.Use(middleware.Identity())
		{
			subHandler := NewSubmissionHandler(deps.SubmitUC, deps.Logger)
			authed.POST("/executions",
				middleware.RateLimiter(deps.RateLimitPerMin),
				middleware.BodySizeLimit(maxBodyBytes),
				subHandler.Submit,
			)

			ledgerHandler := NewLedgerHandler(deps.ListUC, deps.Logger)
			authed.GET("/executions", ledgerHandler.List)

			quotaHandler := NewQuotaHandler(deps.Meter, deps.Logger)
			authed.GET("/quota", quotaHandler.Get)
		}
	}

	return router
}
