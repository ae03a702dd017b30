package merchant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository reads merchants
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Merchant, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Merchant, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates merchant repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Merchant, error) {
	var m Merchant
	err := r.db.GetContext(ctx, &m, `
		SELECT id, owner_id, name, description, vehicle_type, is_active, created_at
		FROM merchants WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("merchant repository get: %w", err)
	}
	return &m, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Merchant, error) {
	var items []*Merchant
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, owner_id, name, description, vehicle_type, is_active, created_at
		FROM merchants WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("merchant repository list by owner: %w", err)
	}
	return items, nil
}
