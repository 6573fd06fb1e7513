package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/auditlog"
	"github.com/conduit-run/conduit/internal/config"
	"github.com/conduit-run/conduit/internal/consumer"
	handler "github.com/conduit-run/conduit/internal/delivery/http"
	"github.com/conduit-run/conduit/internal/publisher"
	"github.com/conduit-run/conduit/internal/relay"
	"github.com/conduit-run/conduit/internal/repository/postgres"
	redisrepo "github.com/conduit-run/conduit/internal/repository/redis"
	"github.com/conduit-run/conduit/internal/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Conduit gateway")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.GinMode)

	// Connect to PostgreSQL
	ctx := context.Background()
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to ping Redis", zap.Error(err))
	}
	logger.Info("Connected to Redis")

	// Initialize RabbitMQ publisher
	pub, err := publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
	}
	defer pub.Close()
	logger.Info("Connected to RabbitMQ")

	// Initialize repositories
	ledgerRepo := postgres.NewLedgerRepository(dbPool)
	quotaRepo := postgres.NewQuotaRepository(dbPool)
	auditRepo := postgres.NewAuditRepository(dbPool)

	idemStore := redisrepo.NewIdempotencyStore(rdb, cfg.Quota.IdempotencyTTL)
	quotaCache := redisrepo.NewQuotaCache(rdb)
	sequencer := redisrepo.NewSequencer(rdb)
	pendingStore := redisrepo.NewPendingStore(rdb)

	// Background workers: the audit sink batches token consumption logs
	// and the reconciler flushes dirty quota counters back to Postgres.
	sink := auditlog.NewSink(auditRepo, cfg.Audit.BatchSize, cfg.Audit.FlushInterval, logger)
	reconciler := auditlog.NewReconciler(quotaCache, quotaRepo, cfg.Audit.ReconcileEvery, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sink.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		reconciler.Run(workerCtx)
	}()

	// Initialize relay hub and use cases
	hub := relay.NewHub(logger)
	meter := usecase.NewQuotaMeter(quotaCache, quotaRepo, cfg.Quota.DefaultMonthlyLimit, cfg.Quota.CycleLength, logger)
	submitUC := usecase.NewSubmitJobUsecase(idemStore, meter, pub, pendingStore, sink, logger)
	listUC := usecase.NewListLedgerUsecase(ledgerRepo, logger)
	ingestUC := usecase.NewIngestResultUsecase(ledgerRepo, sequencer, pendingStore, hub, logger)

	// Initialize result consumer
	resultConsumer, err := consumer.NewConsumer(cfg.RabbitMQ.URL, ingestUC, logger)
	if err != nil {
		logger.Fatal("Failed to initialize result consumer", zap.Error(err))
	}
	defer resultConsumer.Close()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := resultConsumer.Start(workerCtx); err != nil {
			logger.Error("Result consumer stopped", zap.Error(err))
		}
	}()

	// Initialize router
	router := handler.NewRouter(&handler.RouterDeps{
		SubmitUC:        submitUC,
		ListUC:          listUC,
		Meter:           meter,
		Hub:             hub,
		Logger:          logger,
		RateLimitPerMin: cfg.Server.RateLimit,
		DBPool:          dbPool,
		Redis:           rdb,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Gateway listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop background workers; the sink's Run performs a final flush
	// before returning.
	stopWorkers()
	wg.Wait()

	logger.Info("Gateway stopped")
}
