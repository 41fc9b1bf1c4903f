package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/api"
	"github.com/clinicore/scheduling/internal/appointment"
	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
	"github.com/clinicore/scheduling/internal/doctor"
	"github.com/clinicore/scheduling/internal/kafka"
	redisclient "github.com/clinicore/scheduling/internal/redis"
)

const version = "0.3.0"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to redis")

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	var availability doctor.AvailabilityProvider = doctor.NewPgProvider(pgPool)
	if cfg.AvailabilityCacheTTL > 0 {
		availability = doctor.NewCachedProvider(availability, rdb, cfg.AvailabilityCacheTTL, logger)
	}

	// Every event lands in the Postgres audit log; Kafka is optional and
	// only feeds the notification worker.
	sinks := []appointment.EventSink{&appointment.LogSink{Repo: repo}}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing kafka producer")
			}
		}()
		sinks = append(sinks, producer)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaEventsTopic).
			Msg("kafka event publishing enabled")
	}
	sink := &appointment.FanoutSink{Sinks: sinks, Logger: logger}

	svc := appointment.NewService(repo, locker, availability, sink, cfg.Rules(), cfg.DefaultMaxDaily, logger)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
}
