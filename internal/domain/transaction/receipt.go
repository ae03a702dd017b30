package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/farepay/farepay-api/internal/pkg/storage"
)

// ErrReceiptNotFound is returned when no receipt was archived for a transaction
var ErrReceiptNotFound = errors.New("receipt not found")

// Receipt is the archived record of a settled payment
type Receipt struct {
	TransactionID string    `json:"transaction_id"`
	Payment       Response  `json:"payment"`
	ArchivedAt    time.Time `json:"archived_at"`
}

// ReceiptArchiver writes receipts as JSON objects to storage
type ReceiptArchiver struct {
	store storage.Storage
	now   func() time.Time
}

func NewReceiptArchiver(store storage.Storage) *ReceiptArchiver {
	return &ReceiptArchiver{store: store, now: time.Now}
}

// ReceiptKey places a receipt under the UTC day the payment was made
func ReceiptKey(t *Transaction) string {
	return fmt.Sprintf("receipts/%s/%s.json", t.CreatedAt.UTC().Format("2006/01/02"), t.ID)
}

func (a *ReceiptArchiver) Archive(ctx context.Context, t *Transaction) error {
	body, err := json.Marshal(Receipt{
		TransactionID: t.ID,
		Payment:       t.ToResponse(),
		ArchivedAt:    a.now().UTC(),
	})
	if err != nil {
		return err
	}
	return a.store.Put(ctx, ReceiptKey(t), bytes.NewReader(body), "application/json")
}

// Load reads back the receipt of t. The stored copy can predate a reversal
// whose re-archive failed, so the current status wins.
func (a *ReceiptArchiver) Load(ctx context.Context, t *Transaction) (*Receipt, error) {
	rc, err := a.store.Get(ctx, ReceiptKey(t))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r Receipt
	if err := json.NewDecoder(rc).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", t.ID, err)
	}
	if r.Payment.Status != t.Status {
		r.Payment.Status = t.Status
		r.Payment.UpdatedAt = t.UpdatedAt
	}
	return &r, nil
}
