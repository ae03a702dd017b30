package token

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/pkg/database"
	"github.com/farepay/farepay-api/internal/pkg/metrics"
	"github.com/farepay/farepay-api/internal/pkg/validator"
)

const (
	maxCodeAttempts = 5

	DefaultListLimit = 20
	MaxListLimit     = 100
)

// MerchantReader looks up the issuing vehicle
type MerchantReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error)
}

// Config holds token issuance limits
type Config struct {
	Expiry    time.Duration
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
}

// Actor is the caller on whose behalf an operation runs
type Actor struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// CreateRequest for POST /tokens
type CreateRequest struct {
	MerchantID  uuid.UUID       `json:"merchant_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"money"`
	Description string          `json:"description" validate:"max=255"`
}

// Service manages the token lifecycle
type Service struct {
	repo      Repository
	merchants MerchantReader
	cfg       Config
	now       func() time.Time
	random    io.Reader
}

// NewService creates token service
func NewService(repo Repository, merchants MerchantReader, cfg Config) *Service {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 30 * time.Minute
	}
	return &Service{repo: repo, merchants: merchants, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the service clock reading
func (s *Service) Now() time.Time {
	return s.now()
}

// Create issues a token for a merchant the actor operates.
func (s *Service) Create(ctx context.Context, actor Actor, req CreateRequest) (*Token, error) {
	if !s.validAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}

	m, err := s.merchants.GetByID(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != actor.UserID && !actor.IsAdmin {
		return nil, ErrForbidden
	}
	if !m.IsActive {
		return nil, ErrMerchantInactive
	}

	now := s.now()
	t := &Token{
		ID:          uuid.New(),
		MerchantID:  m.ID,
		Amount:      req.Amount,
		Description: req.Description,
		Status:      StatusUnused,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.Expiry),
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := generateCode(s.random)
		if err != nil {
			return nil, err
		}
		t.Code = code

		err = s.repo.Create(ctx, t)
		if err == nil {
			metrics.TokensIssuedTotal.Inc()
			log.Info().
				Str("code", t.Code).
				Str("merchant_id", m.ID.String()).
				Str("amount", t.Amount.StringFixed(2)).
				Msg("Fare token issued")
			return t, nil
		}
		if !errors.Is(err, ErrCodeCollision) {
			return nil, err
		}
		log.Warn().Int("attempt", attempt).Msg("Token code collision, regenerating")
	}
	return nil, ErrCodeSpaceExhausted
}

// Validate checks that code can be paid right now. It never changes state.
func (s *Service) Validate(ctx context.Context, code string) (*View, error) {
	code = NormalizeCode(code)
	if !validator.IsTokenCode(code) {
		return nil, ErrInvalidCode
	}

	v, err := s.repo.GetViewByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	switch {
	case v.Status == StatusUsed:
		return nil, ErrTokenAlreadyUsed
	case v.IsExpiredAt(s.now()):
		return nil, ErrTokenExpired
	}
	return v, nil
}

// TryMarkUsed redeems the validated token on the caller's atomic unit. It
// returns false, not an error, when another redemption or the expiry window won.
func (s *Service) TryMarkUsed(ctx context.Context, q database.Querier, tokenID uuid.UUID, transactionID string) (bool, error) {
	return s.repo.MarkUsed(ctx, q, tokenID, transactionID, s.now())
}

// TryExpire retires code if it is still unused and past its window.
func (s *Service) TryExpire(ctx context.Context, code string) (bool, error) {
	return s.repo.MarkExpired(ctx, code, s.now())
}

// ExpireBatch expires up to limit stale tokens and returns how many moved.
func (s *Service) ExpireBatch(ctx context.Context, limit int) (int, error) {
	codes, err := s.repo.ListExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, code := range codes {
		ok, err := s.TryExpire(ctx, code)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		metrics.TokensExpiredTotal.Add(float64(expired))
	}
	return expired, nil
}

// Get returns a token's status to the driver who issued it.
func (s *Service) Get(ctx context.Context, actor Actor, code string) (*View, error) {
	code = NormalizeCode(code)
	if !validator.IsTokenCode(code) {
		return nil, ErrInvalidCode
	}
	v, err := s.repo.GetViewByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if v.MerchantOwnerID != actor.UserID && !actor.IsAdmin {
		// Tokens of other drivers are reported as missing
		return nil, ErrTokenNotFound
	}
	if v.Status == StatusUnused && v.IsExpiredAt(s.now()) {
		v.Status = StatusExpired
	}
	return v, nil
}

// ListByMerchant returns the merchant's most recent tokens.
func (s *Service) ListByMerchant(ctx context.Context, actor Actor, merchantID uuid.UUID, limit int) ([]*Token, error) {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != actor.UserID && !actor.IsAdmin {
		return nil, ErrForbidden
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	items, err := s.repo.ListByMerchant(ctx, merchantID, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, t := range items {
		if t.Status == StatusUnused && t.IsExpiredAt(now) {
			t.Status = StatusExpired
		}
	}
	return items, nil
}

func (s *Service) validAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return false
	}
	if s.cfg.MinAmount.IsPositive() && amount.LessThan(s.cfg.MinAmount) {
		return false
	}
	if s.cfg.MaxAmount.IsPositive() && amount.GreaterThan(s.cfg.MaxAmount) {
		return false
	}
	return true
}
