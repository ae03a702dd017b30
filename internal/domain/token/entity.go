package token

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a fare token. Used and Expired are terminal.
type Status string

const (
	StatusUnused  Status = "unused"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// CodeLength is the length of a token code
const CodeLength = 8

// Token is a single-use, time-boxed authorization to collect a fixed fare
type Token struct {
	ID            uuid.UUID       `db:"id"`
	Code          string          `db:"code"`
	MerchantID    uuid.UUID       `db:"merchant_id"`
	Amount        decimal.Decimal `db:"amount"`
	Description   string          `db:"description"`
	Status        Status          `db:"status"`
	CreatedAt     time.Time       `db:"created_at"`
	ExpiresAt     time.Time       `db:"expires_at"`
	UsedAt        sql.NullTime    `db:"used_at"`
	TransactionID sql.NullString  `db:"transaction_id"`
}

// IsExpiredAt reports whether the validity window has closed at now,
// regardless of whether the sweeper has caught up.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return t.Status == StatusExpired || !now.Before(t.ExpiresAt)
}

// View is a token joined with its merchant
type View struct {
	Token
	MerchantName        string    `db:"merchant_name"`
	MerchantDescription string    `db:"merchant_description"`
	VehicleType         string    `db:"vehicle_type"`
	MerchantOwnerID     uuid.UUID `db:"merchant_owner_id"`
}

// MerchantInfo describes the vehicle a token was issued by
type MerchantInfo struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	VehicleType string    `json:"vehicle_type"`
}

// ValidationResponse is what a passenger sees before paying
type ValidationResponse struct {
	Code        string          `json:"code"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Merchant    MerchantInfo    `json:"merchant"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// TokenResponse is the issuing driver's view of a token
type TokenResponse struct {
	Code          string          `json:"code"`
	MerchantID    uuid.UUID       `json:"merchant_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	UsedAt        *time.Time      `json:"used_at,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// ToValidationResponse converts a view for the paying passenger
func (v *View) ToValidationResponse() ValidationResponse {
	return ValidationResponse{
		Code:        v.Code,
		Amount:      v.Amount,
		Description: v.Description,
		Merchant: MerchantInfo{
			ID:          v.MerchantID,
			Name:        v.MerchantName,
			Description: v.MerchantDescription,
			VehicleType: v.VehicleType,
		},
		ExpiresAt: v.ExpiresAt,
	}
}

// ToResponse converts a token for its issuer
func (t *Token) ToResponse() TokenResponse {
	resp := TokenResponse{
		Code:          t.Code,
		MerchantID:    t.MerchantID,
		Amount:        t.Amount,
		Description:   t.Description,
		Status:        t.Status,
		CreatedAt:     t.CreatedAt,
		ExpiresAt:     t.ExpiresAt,
		TransactionID: t.TransactionID.String,
	}
	if t.UsedAt.Valid {
		usedAt := t.UsedAt.Time
		resp.UsedAt = &usedAt
	}
	return resp
}
