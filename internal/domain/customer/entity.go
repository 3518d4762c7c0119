package customer

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Customer represents a loyalty program member and their points ledger
type Customer struct {
	ID          uuid.UUID      `db:"id"`
	DisplayName string         `db:"display_name"`
	Active      bool           `db:"active"`
	DeviceToken sql.NullString `db:"device_token"`

	// PointsBalance is a non-negative ledger; it is only ever decremented
	// inside the redemption finalize transaction.
	PointsBalance int64 `db:"points_balance"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
