package token_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/pkg/database"
	"github.com/farepay/farepay-api/internal/pkg/database/dbtest"
)

func TestTokenLifecycleAgainstPostgres(t *testing.T) {
	db := dbtest.Open(t)
	driver := dbtest.CreateUser(t, db, "driver")
	merchantID := dbtest.CreateMerchant(t, db, driver)

	now := time.Now().UTC().Truncate(time.Microsecond)
	clock := func() time.Time { return now }
	svc := token.NewService(token.NewRepository(db), merchant.NewRepository(db), token.Config{Expiry: 30 * time.Minute}).WithClock(clock)
	ctx := context.Background()

	tok, err := svc.Create(ctx, token.Actor{UserID: driver}, token.CreateRequest{
		MerchantID:  merchantID,
		Amount:      decimal.RequireFromString("2.30"),
		Description: "Centro - Sur",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v, err := svc.Validate(ctx, tok.Code)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.Amount.Equal(decimal.RequireFromString("2.30")) || v.MerchantOwnerID != driver || v.VehicleType != "micro" {
		t.Fatalf("unexpected view %+v", v)
	}

	atomic := database.NewTransactor(db)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var ok bool
			err := atomic.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
				var err error
				ok, err = svc.TryMarkUsed(ctx, q, tok.ID, "TXN_RACE")
				return err
			})
			if err != nil {
				t.Errorf("mark used: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one redemption, got %d", wins)
	}
	if _, err := svc.Validate(ctx, tok.Code); !errors.Is(err, token.ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}
}

func TestSweeperExpiresInPostgres(t *testing.T) {
	db := dbtest.Open(t)
	driver := dbtest.CreateUser(t, db, "driver")
	merchantID := dbtest.CreateMerchant(t, db, driver)

	now := time.Now().UTC()
	svc := token.NewService(token.NewRepository(db), merchant.NewRepository(db), token.Config{Expiry: 30 * time.Minute}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	tok, err := svc.Create(ctx, token.Actor{UserID: driver}, token.CreateRequest{MerchantID: merchantID, Amount: decimal.RequireFromString("1.00")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now = now.Add(31 * time.Minute)
	token.NewSweeper(svc, nil, token.SweeperConfig{}).RunOnce(ctx)

	var status string
	if err := db.Get(&status, `SELECT status FROM tokens WHERE id = $1`, tok.ID); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != "expired" {
		t.Fatalf("expected expired, got %s", status)
	}
	if _, err := svc.Validate(ctx, tok.Code); !errors.Is(err, token.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
