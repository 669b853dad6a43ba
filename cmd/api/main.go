package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/waktihq/notify/internal/config"
	"github.com/waktihq/notify/internal/email"
	healthHandler "github.com/waktihq/notify/internal/handler/health"
	presenceHandler "github.com/waktihq/notify/internal/handler/presence"
	queueHandler "github.com/waktihq/notify/internal/handler/queue"
	schedulerHandler "github.com/waktihq/notify/internal/handler/scheduler"
	"github.com/waktihq/notify/internal/middleware"
	"github.com/waktihq/notify/internal/presence"
	"github.com/waktihq/notify/internal/repository/postgres"
	"github.com/waktihq/notify/internal/router"
	queueService "github.com/waktihq/notify/internal/service/queue"
	schedulerService "github.com/waktihq/notify/internal/service/scheduler"
	"github.com/waktihq/notify/pkg/auth"
	"github.com/waktihq/notify/pkg/logger"
	redisBroker "github.com/waktihq/notify/pkg/messaging/redis"
	"github.com/waktihq/notify/pkg/metrics"
	"github.com/waktihq/notify/pkg/push"
	"github.com/waktihq/notify/pkg/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.New(&logger.Config{Level: logger.InfoLevel})

	db, err := postgres.NewDB(postgres.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redisBroker.NewRedisBroker(redisBroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	pusher, err := push.NewClient(push.Config{
		AppID:   cfg.Push.AppID,
		RESTKey: cfg.Push.RESTKey,
		BaseURL: cfg.Push.BaseURL,
		Timeout: cfg.Push.Timeout,
	}, appLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create push client")
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Scheduler.Timezone).Msg("invalid scheduler timezone")
	}

	m := metrics.New("notify")

	baseRepo := postgres.NewBaseRepository(db)
	queueRepo := postgres.NewQueueRepository(baseRepo)
	historyRepo := postgres.NewHistoryRepository(baseRepo)
	profileRepo := postgres.NewProfileRepository(baseRepo)
	documentRepo := postgres.NewDocumentRepository(baseRepo)

	emailSvc := email.NewService(email.Config{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	})

	queueSvc := queueService.NewService(queueRepo, profileRepo, pusher, emailSvc, queueService.Config{
		BatchSize: cfg.Queue.BatchSize,
		Lease:     cfg.Queue.Lease,
		MaxAge:    cfg.Queue.MaxAge,
	}, appLogger, m)
	schedulerSvc := schedulerService.NewService(historyRepo, documentRepo, pusher, loc, appLogger, m)

	registry := presence.NewRegistry(broker, appLogger, m)
	if err := registry.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start presence registry")
	}
	defer registry.Stop()

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	keyVerifier := security.NewBcryptVerifier(0)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc, keyVerifier, cfg.ServiceKeyHash)

	queueH := queueHandler.NewHandler(queueSvc)
	schedulerH := schedulerHandler.NewHandler(schedulerSvc)
	presenceH := presenceHandler.NewHandler(registry)
	healthH := healthHandler.NewHandler(db)

	r := router.NewRouter(authMiddleware, queueH, schedulerH, presenceH, healthH, router.RouterConfig{
		RateLimit:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:  cfg.RateLimit.Burst,
		CORSConfig: middleware.DefaultCORSConfig(),
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.ZL.Info().Int("port", cfg.Server.Port).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.ZL.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.ZL.Info().Msg("server exited properly")
}
