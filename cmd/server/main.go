package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/clock"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/database"
	"github.com/stemsi/examguard-backend/internal/grading"
	"github.com/stemsi/examguard-backend/internal/handler"
	"github.com/stemsi/examguard-backend/internal/logger"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/proctor"
	"github.com/stemsi/examguard-backend/internal/repository"
	"github.com/stemsi/examguard-backend/internal/router"
	"github.com/stemsi/examguard-backend/internal/sandbox"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stemsi/examguard-backend/internal/session"
	"github.com/stemsi/examguard-backend/internal/validator"
	"github.com/stemsi/examguard-backend/internal/worker"
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
		Msg("Starting ExamGuard Backend")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	assessmentRepo := repository.NewAssessmentRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool, assessmentRepo)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Core ──────────────────────────────────────────────
	clk := clock.Real{}
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	assessmentService := service.NewAssessmentService(assessmentRepo, rdb, log)
	monitorService := service.NewMonitorService(monitorRepo, sessionRepo, rdb, log)
	hooks := service.NewLifecycleHooks(rdb, monitorService, log)

	engine := grading.NewEngine(
		sandbox.NewClient(cfg.SandboxURL, cfg.SandboxToken, log),
		grading.Config{Concurrency: cfg.GradingConcurrency, Grace: cfg.SandboxGrace},
		clk.Now,
		log,
	)
	machine := session.NewMachine(sessionRepo, engine, clk, hooks.Hooks(), session.Config{
		FaceWarningThreshold: cfg.FaceWarningThreshold,
	}, log)

	sessionService := service.NewSessionService(machine, sessionRepo, assessmentService, rdb, log)
	proctorService := service.NewProctorService(machine, sessionService, proctor.Config{
		Interval:      cfg.PresenceInterval,
		Cooldown:      cfg.PresenceCooldown,
		WarnThreshold: cfg.FaceWarningThreshold,
	}, proctor.DefaultClassifier, rdb, clk, log)
	hooks.Attach(sessionService, proctorService)

	// ─── Recover In-Flight Sessions ───────────────────────────────────
	// Re-arm timers and force-submit anything that expired while down,
	// before the first request can observe a stale state.
	if n, err := machine.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Session resume failed")
	} else {
		log.Info().Int("sessions", n).Msg("Sessions resumed")
	}

	if err := assessmentService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	gradingWorker := worker.NewGradingWorker(machine, rdb, cfg.GradingConcurrency, log)
	monitoringWorker := worker.NewMonitoringWorker(sessionRepo, machine, rdb, log)
	deadlineWorker := worker.NewDeadlineWorker(machine, sessionRepo, rdb, cfg.DeadlineSweepSpec, log)

	for _, start := range []func(context.Context){gradingWorker.Start, monitoringWorker.Start, deadlineWorker.Start} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Assessment: handler.NewAssessmentHandler(assessmentService, log),
		Session:    handler.NewSessionHandler(sessionService, proctorService, log),
		Review:     handler.NewReviewHandler(sessionService, monitorService, log),
		Monitor:    handler.NewMonitorHandler(assessmentService, monitorService, log),
		WS:         handler.NewWSHandler(sessionService, proctorService, monitorService, log, cfg.AllowedOrigins),
		System:     handler.NewSystemHandler(pool, rdb, machine, proctorService, log),
	}

	r := router.SetupRouter(router.Deps{
		Auth:         authService,
		Sessions:     sessionService,
		EventLimiter: middleware.NewRateLimiter(rdb, cfg.EventRatePerMinute, time.Minute, router.EventRateKey, log),
	}, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the session queues so no new work reaches the workers.
	machine.Close()

	// 3. Stop workers and wait for their queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
