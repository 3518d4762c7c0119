package offer

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents offer status
type Status string

const (
	StatusDraft   Status = "draft"
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusExpired Status = "expired"
)

// Offer represents a merchant loyalty offer customers spend points on
type Offer struct {
	ID         uuid.UUID `db:"id"`
	MerchantID uuid.UUID `db:"merchant_id"`

	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`

	// PointsCost is debited from the customer when a redemption finalizes
	PointsCost int64 `db:"points_cost"`

	// MonthlyLimit caps redemptions per user per calendar month.
	// 0 means the platform default applies.
	MonthlyLimit int `db:"monthly_limit"`

	Status    Status       `db:"status"`
	StartsAt  sql.NullTime `db:"starts_at"`
	EndsAt    sql.NullTime `db:"ends_at"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

// IsActive returns true if the offer is approved and currently running
func (o *Offer) IsActive(now time.Time) bool {
	if o.Status != StatusActive {
		return false
	}
	if o.StartsAt.Valid && now.Before(o.StartsAt.Time) {
		return false
	}
	if o.EndsAt.Valid && !now.Before(o.EndsAt.Time) {
		return false
	}
	return true
}
