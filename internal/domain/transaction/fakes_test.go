package transaction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/domain/ledger"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/pkg/database"
)

// memStore is an in-memory token store, ledger and transaction repository
// sharing one atomic unit. Units are serialized, and every write made inside
// a unit registers an undo step that runs if the unit fails.
type memStore struct {
	unit sync.Mutex
	mu   sync.Mutex
	undo []func()

	now      time.Time
	tokens   map[string]*token.View
	balances map[uuid.UUID]decimal.Decimal
	txns     map[string]*Transaction
	order    []string
	seq      int

	failCredit   error
	beforeRedeem func()
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		now:      now,
		tokens:   map[string]*token.View{},
		balances: map[uuid.UUID]decimal.Decimal{},
		txns:     map[string]*Transaction{},
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *memStore) fund(userID uuid.UUID, amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = money(amount)
}

func (s *memStore) balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *memStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *memStore) issue(ownerID uuid.UUID, amount string, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	code := fmt.Sprintf("TK%06d", s.seq)
	s.tokens[code] = &token.View{
		Token: token.Token{
			ID:         uuid.New(),
			Code:       code,
			MerchantID: uuid.New(),
			Amount:     money(amount),
			Status:     token.StatusUnused,
			CreatedAt:  s.now,
			ExpiresAt:  s.now.Add(ttl),
		},
		MerchantName:    "Line 12",
		VehicleType:     "micro",
		MerchantOwnerID: ownerID,
	}
	return code
}

// reissue puts a fresh token under an existing code, as happens after the
// old one is swept.
func (s *memStore) reissue(code, amount string, ttl time.Duration) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.tokens[code]
	v := *old
	v.ID = uuid.New()
	v.Amount = money(amount)
	v.Status = token.StatusUnused
	v.TransactionID.String, v.TransactionID.Valid = "", false
	v.CreatedAt = s.now
	v.ExpiresAt = s.now.Add(ttl)
	s.tokens[code] = &v
	return v.ID
}

func (s *memStore) token(code string) token.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tokens[code]
}

func (s *memStore) transaction(id string) Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.txns[id]
}

func (s *memStore) countByStatus(st Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.txns {
		if t.Status == st {
			n++
		}
	}
	return n
}

// Atomic

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
	s.unit.Lock()
	defer s.unit.Unlock()

	s.undo = nil
	err := fn(ctx, nil)
	if err != nil {
		for i := len(s.undo) - 1; i >= 0; i-- {
			s.undo[i]()
		}
	}
	s.undo = nil
	return err
}

func (s *memStore) record(step func()) {
	s.undo = append(s.undo, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		step()
	})
}

// TokenManager

func (s *memStore) Validate(ctx context.Context, code string) (*token.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.tokens[code]
	if !ok {
		return nil, token.ErrTokenNotFound
	}
	switch {
	case v.Status == token.StatusUsed:
		return nil, token.ErrTokenAlreadyUsed
	case v.IsExpiredAt(s.now):
		return nil, token.ErrTokenExpired
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) TryMarkUsed(ctx context.Context, q database.Querier, tokenID uuid.UUID, transactionID string) (bool, error) {
	if s.beforeRedeem != nil {
		s.beforeRedeem()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var v *token.View
	for _, candidate := range s.tokens {
		if candidate.ID == tokenID {
			v = candidate
		}
	}
	if v == nil || v.Status != token.StatusUnused || !s.now.Before(v.ExpiresAt) {
		return false, nil
	}
	prev := v.Token
	v.Status = token.StatusUsed
	v.TransactionID.String, v.TransactionID.Valid = transactionID, true
	s.record(func() { v.Token = prev })
	return true, nil
}

// Ledger

func (s *memStore) LockAccounts(ctx context.Context, q database.Querier, userIDs ...uuid.UUID) error {
	return nil
}

func (s *memStore) DebitTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount decimal.Decimal, p ledger.Posting) (decimal.Decimal, error) {
	return s.apply(userID, amount.Neg())
}

func (s *memStore) CreditTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount decimal.Decimal, p ledger.Posting) (decimal.Decimal, error) {
	if s.failCredit != nil {
		return decimal.Zero, s.failCredit
	}
	return s.apply(userID, amount)
}

func (s *memStore) apply(userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.balances[userID]
	next := prev.Add(delta)
	if next.IsNegative() {
		return prev, ledger.ErrInsufficientFunds
	}
	s.balances[userID] = next
	s.record(func() { s.balances[userID] = prev })
	return next, nil
}

// Repository

func (s *memStore) Create(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.txns[t.ID] = &cp
	s.order = append(s.order, t.ID)
	return nil
}

func (s *memStore) transition(id string, from, to Status, reason string, undoable bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok || t.Status != from {
		return false
	}
	prev := *t
	t.Status = to
	if reason != "" {
		t.FailureReason.String, t.FailureReason.Valid = reason, true
	}
	if undoable {
		s.record(func() { *t = prev })
	}
	return true
}

func (s *memStore) MarkCompleted(ctx context.Context, q database.Querier, id string) (bool, error) {
	return s.transition(id, StatusPending, StatusCompleted, "", true), nil
}

func (s *memStore) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return s.transition(id, StatusPending, StatusFailed, reason, false), nil
}

func (s *memStore) MarkReversed(ctx context.Context, q database.Querier, id string) (bool, error) {
	return s.transition(id, StatusCompleted, StatusReversed, "", true), nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetForUpdate(ctx context.Context, q database.Querier, id string) (*Transaction, error) {
	return s.GetByID(ctx, id)
}

func (s *memStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transaction
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if t := s.txns[s.order[i]]; t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Stats{TotalSpent: decimal.Zero}
	for _, t := range s.txns {
		if t.UserID != userID {
			continue
		}
		st.TotalTransactions++
		if t.Status == StatusCompleted {
			st.CompletedTransactions++
			st.TotalSpent = st.TotalSpent.Add(t.Amount)
		}
	}
	return st, nil
}

func (s *memStore) FailStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.txns {
		if t.Status == StatusPending && t.CreatedAt.Before(olderThan) {
			t.Status = StatusFailed
			t.FailureReason.String, t.FailureReason.Valid = reason, true
			n++
		}
	}
	return n, nil
}

type event struct {
	userID uuid.UUID
	kind   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{userID: userID, kind: eventType})
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.kind+":"+e.userID.String())
	}
	sort.Strings(out)
	return out
}
