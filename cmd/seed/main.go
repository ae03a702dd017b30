package main

import (
	"context"
	"flag"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/config"
	"github.com/farepay/farepay-api/internal/domain/ledger"
	"github.com/farepay/farepay-api/internal/pkg/database"
	"github.com/farepay/farepay-api/internal/pkg/logger"
	"github.com/farepay/farepay-api/internal/pkg/password"
)

// seed creates demo accounts for local development. Running it twice is safe.
func main() {
	pass := flag.String("password", "farepay123", "password for every demo account")
	balance := flag.String("balance", "50.00", "initial passenger balance")
	flag.Parse()

	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})
	ctx := context.Background()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.ClosePostgres(db)

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	hash, err := password.NewHasher(cfg.BcryptCost).Hash(*pass)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	passenger := upsertUser(ctx, db, "passenger@farepay.local", "Demo Passenger", "passenger", hash)
	driver := upsertUser(ctx, db, "driver@farepay.local", "Demo Driver", "driver", hash)
	upsertUser(ctx, db, "admin@farepay.local", "Demo Admin", "admin", hash)

	var merchantID uuid.UUID
	err = db.GetContext(ctx, &merchantID, `
		INSERT INTO merchants (id, owner_id, name, description, vehicle_type)
		SELECT $1, $2, 'Line 12', 'Centro - Sur', 'micro'
		WHERE NOT EXISTS (SELECT 1 FROM merchants WHERE owner_id = $2)
		RETURNING id
	`, uuid.New(), driver)
	if err != nil {
		err = db.GetContext(ctx, &merchantID, `SELECT id FROM merchants WHERE owner_id = $1 LIMIT 1`, driver)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create merchant")
	}

	amount, err := decimal.NewFromString(*balance)
	if err != nil {
		log.Fatal().Err(err).Str("balance", *balance).Msg("Invalid balance")
	}
	ledgerService := ledger.NewService(ledger.NewRepository(db), database.NewTransactor(db), decimal.Zero)
	funded, err := ledgerService.TopUp(ctx, passenger, amount, "seed-initial-balance")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fund passenger")
	}

	log.Info().
		Str("passenger_id", passenger.String()).
		Str("driver_id", driver.String()).
		Str("merchant_id", merchantID.String()).
		Str("balance", funded.StringFixed(2)).
		Msg("Demo data ready")
}

func upsertUser(ctx context.Context, db *sqlx.DB, email, name, role, hash string) uuid.UUID {
	var id uuid.UUID
	err := db.GetContext(ctx, &id, `
		INSERT INTO users (id, email, password_hash, name, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = NOW()
		RETURNING id
	`, uuid.New(), email, hash, name, role)
	if err != nil {
		log.Fatal().Err(err).Str("email", email).Msg("Failed to create user")
	}
	return id
}
