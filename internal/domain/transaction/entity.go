package transaction

import (
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents transaction status
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReversed  Status = "reversed"
)

// PaymentMethod is how the passenger presented the code. All methods settle
// against the prepaid balance.
type PaymentMethod string

const (
	MethodWallet PaymentMethod = "wallet"
	MethodQR     PaymentMethod = "qr"
	MethodNFC    PaymentMethod = "nfc"
)

// PaymentMethods lists the accepted methods in display order
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{MethodWallet, MethodQR, MethodNFC}
}

func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodWallet, MethodQR, MethodNFC:
		return true
	}
	return false
}

// Failure reasons stored on failed transactions
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonTokenAlreadyUsed  = "token_already_used"
	ReasonTokenExpired      = "token_expired"
	ReasonInternalError     = "internal_error"
	ReasonAbandoned         = "abandoned"
)

// Transaction is one payment attempt against a token
type Transaction struct {
	ID            string          `db:"id"`
	UserID        uuid.UUID       `db:"user_id"`
	TokenID       uuid.UUID       `db:"token_id"`
	TokenCode     string          `db:"token_code"`
	MerchantID    uuid.UUID       `db:"merchant_id"`
	Amount        decimal.Decimal `db:"amount"`
	PaymentMethod PaymentMethod   `db:"payment_method"`
	Status        Status          `db:"status"`
	FailureReason sql.NullString  `db:"failure_reason"`
	Reference     sql.NullString  `db:"reference"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`

	// Joined from merchants on reads
	MerchantOwnerID uuid.UUID `db:"merchant_owner_id"`
	MerchantName    string    `db:"merchant_name"`
}

// CanView reports whether userID took part in the transaction
func (t *Transaction) CanView(userID uuid.UUID) bool {
	return t.UserID == userID || t.MerchantOwnerID == userID
}

// NewID returns a transaction id of the form TXN_<32 upper hex>
func NewID() string {
	id := uuid.New()
	return "TXN_" + strings.ToUpper(hex.EncodeToString(id[:]))
}

// Result is what a successful payment returns to the payer
type Result struct {
	TransactionID string          `json:"transaction_id"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	MerchantName  string          `json:"merchant_name"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

// Stats summarises a payer's history
type Stats struct {
	TotalTransactions     int             `db:"total_transactions" json:"total_transactions"`
	CompletedTransactions int             `db:"completed_transactions" json:"completed_transactions"`
	TotalSpent            decimal.Decimal `db:"total_spent" json:"total_spent"`
}

// Response is the API view of a transaction
type Response struct {
	ID            string          `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	TokenCode     string          `json:"token_code"`
	MerchantID    uuid.UUID       `json:"merchant_id"`
	MerchantName  string          `json:"merchant_name,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        Status          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (t *Transaction) ToResponse() Response {
	return Response{
		ID:            t.ID,
		UserID:        t.UserID,
		TokenCode:     t.TokenCode,
		MerchantID:    t.MerchantID,
		MerchantName:  t.MerchantName,
		Amount:        t.Amount,
		PaymentMethod: t.PaymentMethod,
		Status:        t.Status,
		FailureReason: t.FailureReason.String,
		Reference:     t.Reference.String,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}
