package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/pkg/database"
)

// Repository persists accounts and ledger entries. Methods taking a Querier
// run on the caller's atomic unit.
type Repository interface {
	Lock(ctx context.Context, q database.Querier, userID uuid.UUID) (decimal.Decimal, error)
	FindReference(ctx context.Context, q database.Querier, userID uuid.UUID, p Posting) (decimal.Decimal, bool, error)
	Apply(ctx context.Context, q database.Querier, userID uuid.UUID, delta decimal.Decimal, p Posting) (decimal.Decimal, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*Entry, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates ledger repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// Lock creates the account if missing and takes its row lock.
func (r *repository) Lock(ctx context.Context, q database.Querier, userID uuid.UUID) (decimal.Decimal, error) {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		if database.IsForeignKeyViolation(err) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := q.GetContext(ctx, &balance, `SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	return balance, err
}

func (r *repository) FindReference(ctx context.Context, q database.Querier, userID uuid.UUID, p Posting) (decimal.Decimal, bool, error) {
	var amount decimal.Decimal
	err := q.GetContext(ctx, &amount, `
		SELECT amount_delta
		FROM ledger_entries
		WHERE user_id = $1 AND entry_type = $2 AND reference_id = $3
	`, userID, string(p.Type), p.ReferenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return amount, true, nil
}

// Apply adds delta to a locked account and records the entry. The balance
// CHECK constraint backs up the ErrInsufficientFunds test.
func (r *repository) Apply(ctx context.Context, q database.Querier, userID uuid.UUID, delta decimal.Decimal, p Posting) (decimal.Decimal, error) {
	balance, err := r.Lock(ctx, q, userID)
	if err != nil {
		return decimal.Zero, err
	}

	next := balance.Add(delta)
	if next.IsNegative() {
		return balance, ErrInsufficientFunds
	}

	if _, err := q.ExecContext(ctx, `UPDATE accounts SET balance = $1, updated_at = now() WHERE user_id = $2`, next, userID); err != nil {
		return decimal.Zero, err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, amount_delta, entry_type, reference_id)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), userID, delta, string(p.Type), p.ReferenceID)
	if err != nil {
		if database.IsUniqueViolation(err, "uq_ledger_entries_reference") {
			return decimal.Zero, ErrDuplicateReference
		}
		return decimal.Zero, err
	}
	return next, nil
}

func (r *repository) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, `SELECT balance FROM accounts WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return balance, err
}

func (r *repository) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, user_id, amount_delta, entry_type, reference_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	return entries, err
}

// lockOrder returns ids without duplicates in the global lock order.
func lockOrder(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
