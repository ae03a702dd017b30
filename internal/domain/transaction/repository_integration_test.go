package transaction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/domain/ledger"
	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/domain/transaction"
	"github.com/farepay/farepay-api/internal/pkg/database"
	"github.com/farepay/farepay-api/internal/pkg/database/dbtest"
)

type stack struct {
	db        *sqlx.DB
	tokens    *token.Service
	ledger    *ledger.Service
	repo      transaction.Repository
	processor *transaction.Processor
	driver    uuid.UUID
	merchant  uuid.UUID
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := dbtest.Open(t)
	atomic := database.NewTransactor(db)

	s := &stack{
		db:     db,
		tokens: token.NewService(token.NewRepository(db), merchant.NewRepository(db), token.Config{Expiry: 30 * time.Minute}),
		ledger: ledger.NewService(ledger.NewRepository(db), atomic, decimal.Zero),
		repo:   transaction.NewRepository(db),
		driver: dbtest.CreateUser(t, db, "driver"),
	}
	s.merchant = dbtest.CreateMerchant(t, db, s.driver)
	s.processor = transaction.NewProcessor(atomic, s.tokens, s.ledger, s.repo, nil, nil)
	return s
}

func (s *stack) issue(t *testing.T, amount string) string {
	t.Helper()
	tok, err := s.tokens.Create(context.Background(), token.Actor{UserID: s.driver}, token.CreateRequest{
		MerchantID: s.merchant,
		Amount:     decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok.Code
}

func (s *stack) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := s.ledger.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func TestPaymentAgainstPostgres(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	passenger := dbtest.CreateUser(t, s.db, "passenger")
	dbtest.Fund(t, s.db, passenger, "50.00")

	code := s.issue(t, "2.30")
	res, err := s.processor.Pay(ctx, passenger, transaction.PayRequest{Code: code, PaymentMethod: transaction.MethodWallet, Reference: "app-123"})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !res.NewBalance.Equal(decimal.RequireFromString("47.70")) {
		t.Fatalf("new balance = %s", res.NewBalance)
	}
	if got := s.balance(t, s.driver); !got.Equal(decimal.RequireFromString("2.30")) {
		t.Fatalf("collection balance = %s", got)
	}

	txn, err := s.repo.GetByID(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if txn.Status != transaction.StatusCompleted || txn.MerchantOwnerID != s.driver || txn.Reference.String != "app-123" {
		t.Fatalf("unexpected transaction %+v", txn)
	}

	if _, err := s.processor.Pay(ctx, passenger, transaction.PayRequest{Code: code, PaymentMethod: transaction.MethodWallet}); !errors.Is(err, token.ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}

	reversed, err := s.processor.Reverse(ctx, res.TransactionID, transaction.Actor{UserID: s.driver})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversed.Status != transaction.StatusReversed {
		t.Fatalf("status = %s", reversed.Status)
	}
	if got := s.balance(t, passenger); !got.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("payer not refunded: %s", got)
	}
	if _, err := s.processor.Reverse(ctx, res.TransactionID, transaction.Actor{UserID: s.driver}); err != nil {
		t.Fatalf("repeat reverse: %v", err)
	}
	if got := s.balance(t, passenger); !got.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("payer refunded twice: %s", got)
	}

	stats, err := s.repo.Stats(ctx, passenger)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTransactions != 1 || stats.CompletedTransactions != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestInsufficientFundsAgainstPostgres(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	passenger := dbtest.CreateUser(t, s.db, "passenger")
	dbtest.Fund(t, s.db, passenger, "1.00")
	code := s.issue(t, "2.30")

	_, err := s.processor.Pay(ctx, passenger, transaction.PayRequest{Code: code, PaymentMethod: transaction.MethodQR})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := s.tokens.Validate(ctx, code); err != nil {
		t.Fatalf("token should stay payable: %v", err)
	}

	items, err := s.repo.ListByUser(ctx, passenger, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Status != transaction.StatusFailed || items[0].FailureReason.String != transaction.ReasonInsufficientFunds {
		t.Fatalf("unexpected history %+v", items)
	}
}

func TestConcurrentPaymentsAgainstPostgres(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	code := s.issue(t, "2.30")

	const racers = 8
	payers := make([]uuid.UUID, racers)
	for i := range payers {
		payers[i] = dbtest.CreateUser(t, s.db, "passenger")
		dbtest.Fund(t, s.db, payers[i], "10.00")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, payer := range payers {
		wg.Add(1)
		go func(payer uuid.UUID) {
			defer wg.Done()
			_, err := s.processor.Pay(ctx, payer, transaction.PayRequest{Code: code, PaymentMethod: transaction.MethodNFC})
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case !errors.Is(err, token.ErrTokenAlreadyUsed):
				t.Errorf("unexpected error: %v", err)
			}
		}(payer)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
	if got := s.balance(t, s.driver); !got.Equal(decimal.RequireFromString("2.30")) {
		t.Fatalf("merchant credited %s", got)
	}

	var pending int
	if err := s.db.GetContext(ctx, &pending, `SELECT COUNT(*) FROM transactions WHERE status = 'pending'`); err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("%d transactions left pending", pending)
	}
}

func TestFailStalePendingAgainstPostgres(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	passenger := dbtest.CreateUser(t, s.db, "passenger")
	v, err := s.tokens.Validate(ctx, s.issue(t, "1.00"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	stale := &transaction.Transaction{
		ID:            transaction.NewID(),
		UserID:        passenger,
		TokenID:       v.ID,
		TokenCode:     v.Code,
		MerchantID:    s.merchant,
		Amount:        v.Amount,
		PaymentMethod: transaction.MethodWallet,
		Status:        transaction.StatusPending,
		CreatedAt:     time.Now().Add(-10 * time.Minute),
	}
	if err := s.repo.Create(ctx, stale); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := s.repo.FailStalePending(ctx, time.Now().Add(-5*time.Minute), transaction.ReasonAbandoned)
	if err != nil || n != 1 {
		t.Fatalf("expected one reaped transaction, got %d (%v)", n, err)
	}
	got, err := s.repo.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != transaction.StatusFailed || got.FailureReason.String != transaction.ReasonAbandoned {
		t.Fatalf("unexpected transaction %+v", got)
	}
	if ok, _ := s.repo.MarkFailed(ctx, stale.ID, transaction.ReasonInternalError); ok {
		t.Fatal("a failed transaction must not change again")
	}
}
