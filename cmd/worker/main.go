package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	segkafka "github.com/segmentio/kafka-go"

	"github.com/clinicore/scheduling/internal/appointment"
	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
	"github.com/clinicore/scheduling/internal/doctor"
	"github.com/clinicore/scheduling/internal/kafka"
	"github.com/clinicore/scheduling/internal/notification"
	redisclient "github.com/clinicore/scheduling/internal/redis"
)

// The worker runs two loops: a periodic sweep that flags overdue active
// appointments as no-shows, and (when Kafka is configured) a consumer
// that turns appointment events into notifications.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).
		Dur("no_show_grace", cfg.NoShowGrace).Msg("worker starting up")

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
	availability := doctor.NewPgProvider(pgPool)
	sink := &appointment.LogSink{Repo: repo}

	svc := appointment.NewService(repo, locker, availability, sink, cfg.Rules(), cfg.DefaultMaxDaily, logger)

	if len(cfg.KafkaBrokers) > 0 {
		go consumeEvents(rootCtx, cfg, logger)
	}

	// Run once at startup, then on every tick.
	sweepOnce(rootCtx, svc, cfg.NoShowGrace, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping worker")
			return
		case <-ticker.C:
			sweepOnce(rootCtx, svc, cfg.NoShowGrace, logger)
		}
	}
}

func sweepOnce(ctx context.Context, svc *appointment.Service, grace time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.MarkOverdueNoShows(runCtx, grace)
	if err != nil {
		logger.Error().Err(err).Msg("no-show sweep failed")
		return
	}
	logger.Info().Int("marked", marked).Dur("took", time.Since(start)).Msg("no-show sweep complete")
}

func consumeEvents(ctx context.Context, cfg config.Config, logger zerolog.Logger) {
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaEventsTopic)
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing kafka consumer")
		}
	}()

	sender := notification.NewSender(logger)
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaEventsTopic).
		Str("group", cfg.KafkaGroupID).Msg("consuming appointment events")

	err := consumer.Consume(ctx, func(ctx context.Context, msg segkafka.Message) error {
		var ev appointment.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			// A malformed message is skipped, not retried forever.
			logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("dropping undecodable event")
			return nil
		}
		if err := sender.Handle(ctx, ev); err != nil {
			logger.Warn().Err(err).Str("event_type", ev.Type).Msg("notification failed")
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("event consumer stopped")
	}
}
