package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-codes-api/internal/repository"
	"github.com/noah-isme/olympiad-codes-api/internal/service"
	"github.com/noah-isme/olympiad-codes-api/pkg/cache"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
	"github.com/noah-isme/olympiad-codes-api/pkg/database"
	"github.com/noah-isme/olympiad-codes-api/pkg/jobs"
	"github.com/noah-isme/olympiad-codes-api/pkg/logger"
	"github.com/noah-isme/olympiad-codes-api/pkg/storage"
)

// @title Olympiad Codes API
// @version 1.0.0
// @description Allocation and reservation of olympiad participation codes
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	applied, err := database.Migrate(ctx, db, cfg.Database.MigrationsDir)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		logr.Info("migrations applied", zap.Strings("files", applied))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, availability cache disabled", zap.Error(err))
		redisClient = nil
	}

	screenshots, err := storage.NewLocalStorage(cfg.Storage.ScreenshotDir, cfg.Storage.MaxScreenshotBytes)
	if err != nil {
		return fmt.Errorf("prepare screenshot storage: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	sessions := repository.NewSessionRepository(db)
	codes := repository.NewCodeRepository(db)
	reserve := repository.NewReserveCodeRepository(db)
	students := repository.NewStudentRepository(db)
	requests := repository.NewCodeRequestRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		redisCache := repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix)
		defer redisCache.Close() //nolint:errcheck
		cacheRepo = redisCache
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	availability := service.NewAvailabilityService(codes, cacheSvc)

	allocation := service.NewAllocationService(sessions, codes, students, requests, availability, metrics, db, cfg.Distribution, validate, logr)
	cascade := service.NewCascadeService(sessions, students, codes, reserve, availability, cfg.Distribution)
	reservations := service.NewReservationService(sessions, codes, reserve, students, availability, metrics, db, cfg.Distribution, logr)

	worker := service.NewReservationWorker(reservations, logr)
	queue := jobs.NewQueue("reservation", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
		OnFailure:  worker.OnFailure,
	})
	queue.Start(ctx)
	defer queue.Stop()
	scheduler := service.NewReservationScheduler(queue, logr)

	deps := routeDeps{
		sessions:     service.NewSessionService(sessions, codes, reserve, requests, availability, logr),
		pool:         service.NewCodePoolService(sessions, codes, availability, scheduler, allocation, db, cfg.Distribution, validate, logr),
		reservations: reservations,
		scheduler:    scheduler,
		allocation:   allocation,
		cascade:      cascade,
		availability: availability,
		requests:     service.NewRequestService(sessions, students, requests, codes, reserve, allocation, cascade, availability, metrics, db, cfg.Distribution, validate, logr),
		students:     service.NewStudentService(students, codes, requests, availability, db, cfg.Distribution, validate, logr),
		tokens:       service.NewTokenService(cfg.JWT),
		metrics:      metrics,
		screenshots:  screenshots,
		db:           db,
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
