package merchant

import (
	"time"

	"github.com/google/uuid"
)

// VehicleType is the kind of vehicle a merchant operates
type VehicleType string

const (
	VehicleMicro VehicleType = "micro"
	VehicleTrufi VehicleType = "trufi"
)

// Merchant is a vehicle that issues fare tokens. Collections are credited to its owner.
type Merchant struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	OwnerID     uuid.UUID   `db:"owner_id" json:"owner_id"`
	Name        string      `db:"name" json:"name"`
	Description string      `db:"description" json:"description"`
	VehicleType VehicleType `db:"vehicle_type" json:"vehicle_type"`
	IsActive    bool        `db:"is_active" json:"is_active"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}
