package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType classifies a balance mutation
type EntryType string

const (
	EntryTopUp      EntryType = "topup"
	EntryPayment    EntryType = "payment"
	EntryCollection EntryType = "collection"
	EntryReversal   EntryType = "reversal"
)

// Account is a user's prepaid balance
type Account struct {
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Entry records one balance mutation
type Entry struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	AmountDelta decimal.Decimal `db:"amount_delta" json:"amount_delta"`
	Type        EntryType       `db:"entry_type" json:"type"`
	ReferenceID string          `db:"reference_id" json:"reference_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Posting describes why a balance changes. ReferenceID is unique per user and type.
type Posting struct {
	Type        EntryType
	ReferenceID string
}
