package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/pkg/database"
)

const (
	DefaultEntriesLimit = 20
	MaxEntriesLimit     = 100
)

// Atomic runs fn as one all-or-nothing unit
type Atomic interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error
}

// Service owns every balance mutation
type Service struct {
	repo     Repository
	atomic   Atomic
	maxTopUp decimal.Decimal
}

// NewService creates ledger service. maxTopUp of zero disables the cap.
func NewService(repo Repository, atomic Atomic, maxTopUp decimal.Decimal) *Service {
	return &Service{repo: repo, atomic: atomic, maxTopUp: maxTopUp}
}

// LockAccounts takes the row locks of every account in a fixed global order
// so two units touching the same pair of accounts cannot deadlock.
func (s *Service) LockAccounts(ctx context.Context, q database.Querier, userIDs ...uuid.UUID) error {
	for _, id := range lockOrder(userIDs) {
		if _, err := s.repo.Lock(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

// DebitTx subtracts amount from userID inside the caller's unit. Nothing is
// committed here; a later failure in the unit undoes the debit.
func (s *Service) DebitTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount decimal.Decimal, p Posting) (decimal.Decimal, error) {
	if !validAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return s.repo.Apply(ctx, q, userID, amount.Neg(), p)
}

// CreditTx adds amount to userID inside the caller's unit, creating the account if missing.
func (s *Service) CreditTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount decimal.Decimal, p Posting) (decimal.Decimal, error) {
	if !validAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return s.repo.Apply(ctx, q, userID, amount, p)
}

// TopUp funds a prepaid balance in its own unit. Repeating a reference with
// the same amount is a no-op; a different amount is ErrReferenceConflict.
func (s *Service) TopUp(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID string) (decimal.Decimal, error) {
	if !validAmount(amount) || (s.maxTopUp.IsPositive() && amount.GreaterThan(s.maxTopUp)) {
		return decimal.Zero, ErrInvalidAmount
	}
	if referenceID == "" {
		referenceID = uuid.NewString()
	}
	p := Posting{Type: EntryTopUp, ReferenceID: referenceID}

	var balance decimal.Decimal
	err := s.atomic.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		current, err := s.repo.Lock(ctx, q, userID)
		if err != nil {
			return err
		}

		existing, found, err := s.repo.FindReference(ctx, q, userID, p)
		if err != nil {
			return err
		}
		if found {
			if !existing.Equal(amount) {
				return ErrReferenceConflict
			}
			balance = current
			return nil
		}

		balance, err = s.repo.Apply(ctx, q, userID, amount, p)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return decimal.Zero, ErrReferenceConflict
		}
		return decimal.Zero, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("amount", amount.StringFixed(2)).
		Str("reference_id", referenceID).
		Msg("ledger topup applied")
	return balance, nil
}

func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.GetBalance(ctx, userID)
}

// ListEntries returns the most recent entries first
func (s *Service) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	if limit > MaxEntriesLimit {
		limit = MaxEntriesLimit
	}
	entries, err := s.repo.ListEntries(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return entries, nil
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}
