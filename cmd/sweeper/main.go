package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/farepay/farepay-api/internal/config"
	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/domain/transaction"
	"github.com/farepay/farepay-api/internal/pkg/database"
	"github.com/farepay/farepay-api/internal/pkg/logger"
)

// wakeChannel lets operators trigger an immediate sweep with PUBLISH
const wakeChannel = "sweeper:wake"

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile})

	log.Info().Msg("Starting token sweeper")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, wake-ups disabled")
		rdb = nil
	}
	defer database.CloseRedis(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	tokens := token.NewService(token.NewRepository(db), merchant.NewRepository(db), token.Config{Expiry: cfg.TokenExpiry})
	sweeper := token.NewSweeper(tokens, transaction.NewRepository(db), token.SweeperConfig{
		Interval:       cfg.SweeperInterval,
		BatchSize:      cfg.SweeperBatchSize,
		PendingTimeout: cfg.PendingTimeout,
	})

	// Polling still runs; a wake-up only brings the next sweep forward
	if rdb != nil {
		go subscribeWakeups(ctx, rdb, sweeper)
	}

	if err := sweeper.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Sweeper stopped with error")
	}
}

func subscribeWakeups(ctx context.Context, rdb *redis.Client, sweeper *token.Sweeper) {
	sub := rdb.Subscribe(ctx, wakeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			log.Info().Msg("Wake-up received, sweeping now")
			sweeper.RunOnce(ctx)
		}
	}
}
