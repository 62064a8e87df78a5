package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/resto-order-engine/internal/app"
	"github.com/noah-isme/resto-order-engine/internal/config"
	"github.com/noah-isme/resto-order-engine/internal/events"
	"github.com/noah-isme/resto-order-engine/internal/lock"
	"github.com/noah-isme/resto-order-engine/internal/promotion"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(startCtx, cfg, "order-engine-worker")
	cancel()
	if err != nil {
		panic(err)
	}
	logger := deps.Logger
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	redisOpt, err := app.AsynqRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}

	promoSvc := &promotion.Service{Store: deps.Store, Logger: &logger}
	mux := asynq.NewServeMux()
	mux.HandleFunc(promotion.TaskConsume, promoSvc.HandleConsumeTask)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{promotion.QueueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return time.Duration(n+1) * 2 * time.Second
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
		Logger:          asynqLogger{logger},
		ShutdownTimeout: 20 * time.Second,
	})

	var publisher events.Publisher = events.LogPublisher{Logger: logger}
	if cfg.KafkaEnabled() {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
		publisher = kafka
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set, outbox events are only logged")
	}
	relay := &events.Relay{
		Source:    deps.Store,
		Publisher: publisher,
		Lock:      lock.Locker{R: deps.Redis, RetryBackoff: 50 * time.Millisecond},
		Interval:  cfg.OutboxPollInterval,
		Batch:     cfg.OutboxBatchSize,
		Logger:    &logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		server.Shutdown()
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Bool("kafka", cfg.KafkaEnabled()).Msg("worker starting")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}
