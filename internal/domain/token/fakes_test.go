package token

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/pkg/database"
)

type fakeRepo struct {
	mu         sync.Mutex
	tokens     []*Token
	merchants  map[uuid.UUID]*merchant.Merchant
	collisions int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{merchants: map[uuid.UUID]*merchant.Merchant{}}
}

func (f *fakeRepo) addMerchant(owner uuid.UUID, active bool) *merchant.Merchant {
	m := &merchant.Merchant{ID: uuid.New(), OwnerID: owner, Name: "Line 12", Description: "Centro - Sur", VehicleType: merchant.VehicleMicro, IsActive: active}
	f.merchants[m.ID] = m
	return m
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	if m, ok := f.merchants[id]; ok {
		return m, nil
	}
	return nil, merchant.ErrMerchantNotFound
}

func (f *fakeRepo) Create(ctx context.Context, t *Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collisions > 0 {
		f.collisions--
		return ErrCodeCollision
	}
	for _, existing := range f.tokens {
		if existing.Code == t.Code && existing.Status != StatusExpired {
			return ErrCodeCollision
		}
	}
	cp := *t
	f.tokens = append(f.tokens, &cp)
	return nil
}

func (f *fakeRepo) latest(code string) *Token {
	var found *Token
	for _, t := range f.tokens {
		if t.Code == code && (found == nil || t.CreatedAt.After(found.CreatedAt)) {
			found = t
		}
	}
	return found
}

func (f *fakeRepo) GetViewByCode(ctx context.Context, code string) (*View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.latest(code)
	if t == nil {
		return nil, ErrTokenNotFound
	}
	m := f.merchants[t.MerchantID]
	return &View{
		Token:               *t,
		MerchantName:        m.Name,
		MerchantDescription: m.Description,
		VehicleType:         string(m.VehicleType),
		MerchantOwnerID:     m.OwnerID,
	}, nil
}

func (f *fakeRepo) MarkUsed(ctx context.Context, q database.Querier, tokenID uuid.UUID, transactionID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == tokenID && t.Status == StatusUnused && t.ExpiresAt.After(now) {
			t.Status = StatusUsed
			t.UsedAt = sql.NullTime{Time: now, Valid: true}
			t.TransactionID = sql.NullString{String: transactionID, Valid: true}
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) MarkExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.Code == code && t.Status == StatusUnused && !t.ExpiresAt.After(now) {
			t.Status = StatusExpired
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var codes []string
	for _, t := range f.tokens {
		if t.Status == StatusUnused && !t.ExpiresAt.After(now) {
			codes = append(codes, t.Code)
		}
	}
	sort.Strings(codes)
	if len(codes) > limit {
		codes = codes[:limit]
	}
	return codes, nil
}

func (f *fakeRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Token
	for i := len(f.tokens) - 1; i >= 0 && len(out) < limit; i-- {
		if f.tokens[i].MerchantID == merchantID {
			cp := *f.tokens[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) status(code string) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest(code).Status
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
