package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/cache"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/events"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/repository/memstore"
	"github.com/stemsi/exstem-cbt/internal/router"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	"github.com/stemsi/exstem-cbt/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Bool("memory_store", cfg.UsesMemoryStore()).
		Msg("Starting ExStem CBT")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Storage ───────────────────────────────────────────────────────
	// DATABASE_URL=memory runs without PostgreSQL and Redis for demos.
	var (
		store repository.Store
		rdb   *redis.Client
	)
	if cfg.UsesMemoryStore() {
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		store = memstore.New()
	} else {
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		store = repository.NewStore(pool)

		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	// ─── Redis-backed collaborators ────────────────────────────────────
	// Interface values stay nil without Redis so services fall back to no-ops.
	var (
		questionCache service.QuestionCache
		eventSink     service.EventPublisher
		regradeQueue  service.RegradeQueue
		publisher     *events.Publisher
	)
	loginLimiter := middleware.NewRateLimiter(30, time.Minute)
	validateLimiter := middleware.Limiter(middleware.NewRateLimiter(cfg.ValidateRatePerMinute, time.Minute))
	if rdb != nil {
		questionCache = cache.NewExamQuestions(rdb, cfg.QuestionCacheTTL, log)
		publisher = events.NewPublisher(rdb)
		eventSink = publisher
		regradeQueue = events.NewRegradeQueue(rdb)
		validateLimiter = middleware.NewRedisLimiter(rdb, "validate", cfg.ValidateRatePerMinute, time.Minute)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, store, log)
	tokenManager := service.NewTokenManager(store, service.TokenDefaults{
		Duration: cfg.TokenDefaultDuration,
		MaxUsage: cfg.TokenDefaultMaxUsage,
	}, log)
	eligibilityService := service.NewEligibilityService(store, log)
	sessionService := service.NewSessionService(store, tokenManager, eligibilityService, questionCache, eventSink, regradeQueue, log)
	examService := service.NewExamService(store, tokenManager, questionCache, cfg.RequireAccessTokenOnPublish, log)
	reportService := service.NewReportService(store, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, log),
		Student: handler.NewStudentHandler(sessionService, tokenManager, reportService, log),
		Exam:    handler.NewExamHandler(examService, sessionService, reportService, log),
		Token:   handler.NewTokenHandler(tokenManager, examService, log),
		Grading: handler.NewGradingHandler(sessionService, log),
		Monitor: handler.NewMonitorHandler(publisher, examService, reportService, log),
		WS:      handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	go loginLimiter.StartCleanup(workerCtx)
	if l, ok := validateLimiter.(*middleware.RateLimiter); ok {
		go l.StartCleanup(workerCtx)
	}

	rotationWorker := worker.NewTokenRotationWorker(tokenManager, cfg.TokenRotateInterval, log)
	go rotationWorker.Start(workerCtx)

	if rdb != nil {
		regradeWorker := worker.NewRegradeWorker(rdb, sessionService, log)
		go regradeWorker.Start(workerCtx)
	} else {
		log.Warn().Msg("Regrade queue disabled without Redis")
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, router.Limiters{
		Login:    loginLimiter,
		Validate: validateLimiter,
	}, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and let the regrade batch flush.
	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
