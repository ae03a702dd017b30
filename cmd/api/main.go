package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/farepay/farepay-api/internal/config"
	"github.com/farepay/farepay-api/internal/domain/auth"
	"github.com/farepay/farepay-api/internal/domain/ledger"
	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/domain/realtime"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/domain/transaction"
	"github.com/farepay/farepay-api/internal/domain/user"
	"github.com/farepay/farepay-api/internal/middleware"
	"github.com/farepay/farepay-api/internal/pkg/database"
	"github.com/farepay/farepay-api/internal/pkg/jwt"
	"github.com/farepay/farepay-api/internal/pkg/logger"
	"github.com/farepay/farepay-api/internal/pkg/password"
	"github.com/farepay/farepay-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting FarePay API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		// Rate limits, idempotency and fan-out fall back to this instance only
		log.Warn().Err(err).Msg("Redis unavailable, running without shared state")
		rdb = nil
	}
	defer database.CloseRedis(rdb)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	atomic := database.NewTransactor(db)

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	merchantRepo := merchant.NewRepository(db)
	tokenRepo := token.NewRepository(db)
	ledgerRepo := ledger.NewRepository(db)
	transactionRepo := transaction.NewRepository(db)

	// ---------- Realtime ----------
	hub := realtime.NewHub(rdb)
	go hub.Run()
	defer hub.Shutdown()

	// ---------- Receipts ----------
	receipts, err := newReceiptArchiver(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure receipt storage")
	}
	var archiver transaction.Archiver
	if receipts != nil {
		archiver = receipts
	}

	// ---------- Services ----------
	authService := auth.NewService(userRepo, jwtService, password.NewHasher(cfg.BcryptCost))
	tokenService := token.NewService(tokenRepo, merchantRepo, token.Config{
		Expiry:    cfg.TokenExpiry,
		MinAmount: cfg.MinPaymentAmount,
		MaxAmount: cfg.MaxPaymentAmount,
	})
	ledgerService := ledger.NewService(ledgerRepo, atomic, cfg.MaxTopUpAmount)
	processor := transaction.NewProcessor(atomic, tokenService, ledgerService, transactionRepo, hub, archiver)

	// ---------- Middleware backends ----------
	var idempotencyStore middleware.IdempotencyStore = middleware.NewMemoryIdempotencyStore()
	if rdb != nil {
		idempotencyStore = middleware.NewRedisIdempotencyStore(rdb)
	}

	router := newRouter(cfg, handlers{
		auth:         auth.NewHandler(authService),
		merchants:    merchant.NewHandler(merchantRepo),
		tokens:       token.NewHandler(tokenService),
		transactions: transaction.NewHandler(processor, receipts),
		wallet:       ledger.NewHandler(ledgerService),
		realtime:     realtime.NewHandler(hub, cfg.AllowedOrigins),

		authMiddleware: middleware.Auth(jwtService),
		validateLimit:  middleware.NewRateLimiter("token_validate", cfg.ValidateRateLimit, cfg.ValidateRateWindow, rdb).Middleware,
		idempotency:    middleware.Idempotency(idempotencyStore, cfg.IdempotencyTTL),
		ready:          db.PingContext,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.SweeperEnabled {
		sweeper := token.NewSweeper(tokenService, transactionRepo, token.SweeperConfig{
			Interval:       cfg.SweeperInterval,
			BatchSize:      cfg.SweeperBatchSize,
			PendingTimeout: cfg.PendingTimeout,
		})
		g.Go(func() error { return sweeper.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		return
	}
	log.Info().Msg("Server exited properly")
}

// newReceiptArchiver picks S3 when a bucket is configured, else the local
// directory. It returns nil when archival is disabled.
func newReceiptArchiver(ctx context.Context, cfg *config.Config) (*transaction.ReceiptArchiver, error) {
	if !cfg.ReceiptsEnabled() {
		return nil, nil
	}

	var (
		backend storage.Storage
		err     error
	)
	if cfg.S3Bucket != "" {
		backend, err = storage.NewS3Storage(ctx, storage.Config{
			S3Endpoint:  cfg.S3Endpoint,
			S3Region:    cfg.S3Region,
			S3AccessKey: cfg.S3AccessKey,
			S3SecretKey: cfg.S3SecretKey,
			S3Bucket:    cfg.S3Bucket,
		})
	} else {
		backend, err = storage.NewLocalStorage(cfg.ReceiptsDir)
	}
	if err != nil {
		return nil, err
	}
	return transaction.NewReceiptArchiver(storage.NewBreakerStorage("receipts", backend)), nil
}
