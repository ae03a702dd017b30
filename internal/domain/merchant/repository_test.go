package merchant_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/pkg/database/dbtest"
)

func TestRepositoryGetAndList(t *testing.T) {
	db := dbtest.Open(t)
	owner := dbtest.CreateUser(t, db, "driver")
	id := dbtest.CreateMerchant(t, db, owner)
	repo := merchant.NewRepository(db)

	m, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.OwnerID != owner || m.VehicleType != merchant.VehicleMicro || !m.IsActive {
		t.Fatalf("unexpected merchant %+v", m)
	}

	list, err := repo.ListByOwner(context.Background(), owner)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one merchant, got %d err=%v", len(list), err)
	}

	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, merchant.ErrMerchantNotFound) {
		t.Fatalf("expected ErrMerchantNotFound, got %v", err)
	}
}
