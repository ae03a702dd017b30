package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/farepay/farepay-api/internal/pkg/database"
)

// Repository persists tokens. Status changes are conditional updates so that
// concurrent redeem and expire calls race on the row, not in memory.
type Repository interface {
	Create(ctx context.Context, t *Token) error
	GetViewByCode(ctx context.Context, code string) (*View, error)
	MarkUsed(ctx context.Context, q database.Querier, tokenID uuid.UUID, transactionID string, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, code string, now time.Time) (bool, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]*Token, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates token repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const tokenColumns = `t.id, t.code, t.merchant_id, t.amount, t.description, t.status,
	t.created_at, t.expires_at, t.used_at, t.transaction_id`

func (r *repository) Create(ctx context.Context, t *Token) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (id, code, merchant_id, amount, description, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Code, t.MerchantID, t.Amount, t.Description, t.Status, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		if database.IsUniqueViolation(err, "uq_tokens_code_live") {
			return ErrCodeCollision
		}
		return fmt.Errorf("token repository create: %w", err)
	}
	return nil
}

// GetViewByCode returns the most recent token with code. Expired codes may be
// reissued, so older rows can share it.
func (r *repository) GetViewByCode(ctx context.Context, code string) (*View, error) {
	var v View
	err := r.db.GetContext(ctx, &v, `
		SELECT `+tokenColumns+`,
		       m.name AS merchant_name, m.description AS merchant_description,
		       m.vehicle_type, m.owner_id AS merchant_owner_id
		FROM tokens t
		JOIN merchants m ON m.id = t.merchant_id
		WHERE t.code = $1
		ORDER BY t.created_at DESC
		LIMIT 1
	`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token repository get by code: %w", err)
	}
	return &v, nil
}

// MarkUsed moves a live token to used. It reports false when the token was
// already used or expired. Keyed by id so a reissued code is never redeemed
// on behalf of the token that was validated.
func (r *repository) MarkUsed(ctx context.Context, q database.Querier, tokenID uuid.UUID, transactionID string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE tokens
		SET status = 'used', used_at = $3, transaction_id = $2
		WHERE id = $1 AND status = 'unused' AND expires_at > $3
	`, tokenID, transactionID, now)
	if err != nil {
		return false, fmt.Errorf("token repository mark used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkExpired moves an unused token whose window has closed to expired.
func (r *repository) MarkExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tokens
		SET status = 'expired'
		WHERE code = $1 AND status = 'unused' AND expires_at <= $2
	`, code, now)
	if err != nil {
		return false, fmt.Errorf("token repository mark expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var codes []string
	err := r.db.SelectContext(ctx, &codes, `
		SELECT code FROM tokens
		WHERE status = 'unused' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("token repository list expirable: %w", err)
	}
	return codes, nil
}

func (r *repository) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]*Token, error) {
	var items []*Token
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+tokenColumns+`
		FROM tokens t
		WHERE t.merchant_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("token repository list by merchant: %w", err)
	}
	return items, nil
}
