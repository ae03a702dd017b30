package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/domain/ledger"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/pkg/database"
	"github.com/farepay/farepay-api/internal/pkg/logger"
	"github.com/farepay/farepay-api/internal/pkg/metrics"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100

	EventTokenRedeemed       = "token_redeemed"
	EventTransactionReversed = "transaction_reversed"

	sideEffectTimeout = 30 * time.Second
)

// errRedeemLost aborts a unit whose token was taken or lapsed after validation
var errRedeemLost = errors.New("token redemption lost")

// Atomic runs fn as one all-or-nothing unit
type Atomic interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error
}

// TokenManager validates and redeems fare tokens
type TokenManager interface {
	Validate(ctx context.Context, code string) (*token.View, error)
	TryMarkUsed(ctx context.Context, q database.Querier, tokenID uuid.UUID, transactionID string) (bool, error)
}

// Ledger moves money between prepaid balances inside a unit
type Ledger interface {
	LockAccounts(ctx context.Context, q database.Querier, userIDs ...uuid.UUID) error
	DebitTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount decimal.Decimal, p ledger.Posting) (decimal.Decimal, error)
	CreditTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount decimal.Decimal, p ledger.Posting) (decimal.Decimal, error)
}

// Publisher pushes an event to a connected user
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error
}

// Archiver stores a receipt of a settled transaction
type Archiver interface {
	Archive(ctx context.Context, t *Transaction) error
}

// Actor is the caller on whose behalf an operation runs
type Actor struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// PayRequest for POST /payments
type PayRequest struct {
	Code          string        `json:"code" validate:"required"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required,payment_method"`
	Reference     string        `json:"reference" validate:"omitempty,max=100"`
}

// Processor settles fare payments. Every balance and token change of a
// payment commits as one unit or not at all.
type Processor struct {
	atomic    Atomic
	tokens    TokenManager
	ledger    Ledger
	repo      Repository
	publisher Publisher
	archiver  Archiver
	now       func() time.Time
	async     func(func())
}

// NewProcessor creates the payment processor. publisher and archiver may be nil.
func NewProcessor(atomic Atomic, tokens TokenManager, ledger Ledger, repo Repository, publisher Publisher, archiver Archiver) *Processor {
	return &Processor{
		atomic:    atomic,
		tokens:    tokens,
		ledger:    ledger,
		repo:      repo,
		publisher: publisher,
		archiver:  archiver,
		now:       time.Now,
		async:     func(f func()) { go f() },
	}
}

// Pay redeems the token identified by req.Code against payerID's balance and
// credits the merchant owner. The processor never retries on its own; a
// failed payment leaves a failed transaction and no balance or token change.
func (p *Processor) Pay(ctx context.Context, payerID uuid.UUID, req PayRequest) (*Result, error) {
	if !req.PaymentMethod.IsValid() {
		return nil, ErrInvalidPaymentMethod
	}

	view, err := p.tokens.Validate(ctx, req.Code)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if view.MerchantOwnerID == payerID {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSelfPayment
	}

	now := p.now()
	txn := &Transaction{
		ID:              NewID(),
		UserID:          payerID,
		TokenID:         view.ID,
		TokenCode:       view.Code,
		MerchantID:      view.MerchantID,
		Amount:          view.Amount,
		PaymentMethod:   req.PaymentMethod,
		Status:          StatusPending,
		Reference:       sql.NullString{String: req.Reference, Valid: req.Reference != ""},
		CreatedAt:       now,
		UpdatedAt:       now,
		MerchantOwnerID: view.MerchantOwnerID,
		MerchantName:    view.MerchantName,
	}
	if err := p.repo.Create(ctx, txn); err != nil {
		metrics.PaymentsTotal.WithLabelValues(ReasonInternalError).Inc()
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	l := logger.FromContext(ctx).With().
		Str("transaction_id", txn.ID).
		Str("code", txn.TokenCode).
		Str("amount", txn.Amount.StringFixed(2)).
		Logger()

	var newBalance decimal.Decimal
	err = p.atomic.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		if err := p.ledger.LockAccounts(ctx, q, payerID, view.MerchantOwnerID); err != nil {
			return err
		}

		balance, err := p.ledger.DebitTx(ctx, q, payerID, txn.Amount, ledger.Posting{Type: ledger.EntryPayment, ReferenceID: txn.ID})
		if err != nil {
			return err
		}

		redeemed, err := p.tokens.TryMarkUsed(ctx, q, txn.TokenID, txn.ID)
		if err != nil {
			return err
		}
		if !redeemed {
			return errRedeemLost
		}

		if _, err := p.ledger.CreditTx(ctx, q, view.MerchantOwnerID, txn.Amount, ledger.Posting{Type: ledger.EntryCollection, ReferenceID: txn.ID}); err != nil {
			return err
		}

		completed, err := p.repo.MarkCompleted(ctx, q, txn.ID)
		if err != nil {
			return err
		}
		if !completed {
			return fmt.Errorf("transaction %s is no longer pending", txn.ID)
		}

		newBalance = balance
		return nil
	})
	if err != nil {
		reason, out := p.classify(ctx, txn, err)
		p.markFailed(ctx, txn.ID, reason)
		metrics.PaymentsTotal.WithLabelValues(reason).Inc()
		if reason == ReasonInternalError {
			l.Error().Err(err).Msg("Payment rolled back")
		} else {
			l.Info().Str("reason", reason).Msg("Payment declined")
		}
		return nil, out
	}

	txn.Status = StatusCompleted
	metrics.PaymentsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	metrics.PaymentAmount.Observe(txn.Amount.InexactFloat64())
	l.Info().Str("user_id", payerID.String()).Msg("Payment completed")

	p.afterCommit(ctx, txn.MerchantOwnerID, EventTokenRedeemed, txn, true)

	return &Result{
		TransactionID: txn.ID,
		Status:        StatusCompleted,
		Amount:        txn.Amount,
		NewBalance:    newBalance,
		MerchantName:  txn.MerchantName,
		ProcessedAt:   now,
	}, nil
}

// classify maps a rolled back unit to the stored failure reason and the
// error returned to the payer.
func (p *Processor) classify(ctx context.Context, txn *Transaction, err error) (string, error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ReasonInsufficientFunds, ledger.ErrInsufficientFunds
	case errors.Is(err, errRedeemLost):
		// A live token under the same code with another id means ours lapsed
		// and the code was reissued.
		current, verr := p.tokens.Validate(ctx, txn.TokenCode)
		if errors.Is(verr, token.ErrTokenExpired) || (verr == nil && current.ID != txn.TokenID) {
			return ReasonTokenExpired, token.ErrTokenExpired
		}
		return ReasonTokenAlreadyUsed, token.ErrTokenAlreadyUsed
	default:
		return ReasonInternalError, fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

// markFailed records the outcome even if the caller has gone away.
func (p *Processor) markFailed(ctx context.Context, id, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if _, err := p.repo.MarkFailed(ctx, id, reason); err != nil {
		// The sweeper fails it as abandoned later
		logger.FromContext(ctx).Error().Err(err).Str("transaction_id", id).Msg("Failed to record failed payment")
	}
}

// afterCommit runs notification and archival without holding up the caller.
// Their failures are logged and never undo the settled payment.
func (p *Processor) afterCommit(ctx context.Context, notifyUserID uuid.UUID, event string, txn *Transaction, archive bool) {
	snapshot := *txn
	ctx = context.WithoutCancel(ctx)

	p.async(func() {
		ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		defer cancel()

		if p.publisher != nil {
			if err := p.publisher.Publish(ctx, notifyUserID, event, snapshot.ToResponse()); err != nil {
				log.Warn().Err(err).Str("transaction_id", snapshot.ID).Str("event", event).Msg("Failed to publish event")
			}
		}
		if archive && p.archiver != nil {
			if err := p.archiver.Archive(ctx, &snapshot); err != nil {
				log.Warn().Err(err).Str("transaction_id", snapshot.ID).Msg("Failed to archive receipt")
			}
		}
	})
}

// Reverse returns a completed payment to the payer. Reversing an already
// reversed transaction returns it unchanged.
func (p *Processor) Reverse(ctx context.Context, id string, actor Actor) (*Transaction, error) {
	var (
		txn     *Transaction
		changed bool
	)
	err := p.atomic.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		t, err := p.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if t.MerchantOwnerID != actor.UserID && !actor.IsAdmin {
			if t.UserID == actor.UserID {
				return ErrForbidden
			}
			return ErrTransactionNotFound
		}

		switch t.Status {
		case StatusReversed:
			txn = t
			return nil
		case StatusCompleted:
		default:
			return ErrInvalidTransition
		}

		if err := p.ledger.LockAccounts(ctx, q, t.MerchantOwnerID, t.UserID); err != nil {
			return err
		}
		posting := ledger.Posting{Type: ledger.EntryReversal, ReferenceID: t.ID}
		if _, err := p.ledger.DebitTx(ctx, q, t.MerchantOwnerID, t.Amount, posting); err != nil {
			return err
		}
		if _, err := p.ledger.CreditTx(ctx, q, t.UserID, t.Amount, posting); err != nil {
			return err
		}

		ok, err := p.repo.MarkReversed(ctx, q, t.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}

		t.Status = StatusReversed
		t.UpdatedAt = p.now()
		txn, changed = t, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.ReversalsTotal.Inc()
		logger.FromContext(ctx).Info().
			Str("transaction_id", txn.ID).
			Str("amount", txn.Amount.StringFixed(2)).
			Msg("Payment reversed")
		p.afterCommit(ctx, txn.UserID, EventTransactionReversed, txn, true)
	}
	return txn, nil
}

// Get returns a transaction to its payer, the merchant owner or an admin.
func (p *Processor) Get(ctx context.Context, id string, viewer Actor) (*Transaction, error) {
	t, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin && !t.CanView(viewer.UserID) {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}

// List returns the payer's most recent transactions first
func (p *Processor) List(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return p.repo.ListByUser(ctx, userID, limit)
}

func (p *Processor) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	return p.repo.Stats(ctx, userID)
}
