package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/waktihq/notify/internal/config"
	"github.com/waktihq/notify/internal/email"
	"github.com/waktihq/notify/internal/events"
	"github.com/waktihq/notify/internal/repository/postgres"
	queueService "github.com/waktihq/notify/internal/service/queue"
	"github.com/waktihq/notify/pkg/logger"
	redisBroker "github.com/waktihq/notify/pkg/messaging/redis"
	"github.com/waktihq/notify/pkg/metrics"
	"github.com/waktihq/notify/pkg/push"
	"github.com/waktihq/notify/pkg/worker"
)

func setupHealthCheck(appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			appLogger.ZL.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}

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

	m := metrics.New("notify_worker")

	baseRepo := postgres.NewBaseRepository(db)
	queueRepo := postgres.NewQueueRepository(baseRepo)
	profileRepo := postgres.NewProfileRepository(baseRepo)

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

	drainer := worker.NewDrainer(queueSvc, worker.DrainerConfig{
		PollInterval: cfg.Queue.PollInterval,
	}, appLogger)

	eventRouter := events.NewRouter(broker, pusher, profileRepo, events.Config{
		ReadyTimeout:  cfg.Push.ReadyTimeout,
		ReadyInterval: cfg.Push.ReadyInterval,
	}, appLogger, m)

	setupHealthCheck(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.ZL.Info().Msg("shutting down...")
		cancel()
	}()

	if err := eventRouter.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start event router")
	}
	defer eventRouter.Close()

	drainer.Start(ctx)
}
