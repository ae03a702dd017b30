package transaction

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

// Repository persists payment attempts. Status changes are conditional on the
// current status so a transaction never leaves a terminal state.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	MarkCompleted(ctx context.Context, q database.Querier, id string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	MarkReversed(ctx context.Context, q database.Querier, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetForUpdate(ctx context.Context, q database.Querier, id string) (*Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error)
	Stats(ctx context.Context, userID uuid.UUID) (*Stats, error)
	FailStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates transaction repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const selectTransaction = `
	SELECT t.id, t.user_id, t.token_id, t.token_code, t.merchant_id, t.amount,
	       t.payment_method, t.status, t.failure_reason, t.reference,
	       t.created_at, t.updated_at,
	       m.owner_id AS merchant_owner_id, m.name AS merchant_name
	FROM transactions t
	JOIN merchants m ON m.id = t.merchant_id`

// Create inserts a pending transaction outside any unit, so the row survives
// a rolled back payment and can record why it failed.
func (r *repository) Create(ctx context.Context, t *Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, token_id, token_code, merchant_id, amount,
		                          payment_method, status, reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, t.ID, t.UserID, t.TokenID, t.TokenCode, t.MerchantID, t.Amount,
		t.PaymentMethod, t.Status, t.Reference, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("transaction repository create: %w", err)
	}
	return nil
}

func (r *repository) MarkCompleted(ctx context.Context, q database.Querier, id string) (bool, error) {
	return r.transition(ctx, q, id, StatusPending, StatusCompleted, sql.NullString{})
}

func (r *repository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return r.transition(ctx, r.db, id, StatusPending, StatusFailed, sql.NullString{String: reason, Valid: true})
}

func (r *repository) MarkReversed(ctx context.Context, q database.Querier, id string) (bool, error) {
	return r.transition(ctx, q, id, StatusCompleted, StatusReversed, sql.NullString{})
}

func (r *repository) transition(ctx context.Context, q database.Querier, id string, from, to Status, reason sql.NullString) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3, failure_reason = COALESCE($4, failure_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, reason)
	if err != nil {
		return false, fmt.Errorf("transaction repository %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Transaction, error) {
	return r.get(ctx, r.db, selectTransaction+` WHERE t.id = $1`, id)
}

// GetForUpdate locks the transaction row for the rest of the caller's unit.
func (r *repository) GetForUpdate(ctx context.Context, q database.Querier, id string) (*Transaction, error) {
	return r.get(ctx, q, selectTransaction+` WHERE t.id = $1 FOR UPDATE OF t`, id)
}

func (r *repository) get(ctx context.Context, q database.Querier, query, id string) (*Transaction, error) {
	var t Transaction
	err := q.GetContext(ctx, &t, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction repository get: %w", err)
	}
	return &t, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error) {
	var items []*Transaction
	err := r.db.SelectContext(ctx, &items, selectTransaction+`
		WHERE t.user_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("transaction repository list: %w", err)
	}
	return items, nil
}

func (r *repository) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	var s Stats
	err := r.db.GetContext(ctx, &s, `
		SELECT COUNT(*) AS total_transactions,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed_transactions,
		       COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0) AS total_spent
		FROM transactions
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("transaction repository stats: %w", err)
	}
	return &s, nil
}

// FailStalePending fails attempts left pending by a crashed process.
func (r *repository) FailStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1
	`, olderThan, reason)
	if err != nil {
		return 0, fmt.Errorf("transaction repository fail stale: %w", err)
	}
	return res.RowsAffected()
}
