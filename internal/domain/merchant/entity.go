package merchant

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents a merchant's platform subscription state
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Merchant represents a business offering redemptions
type Merchant struct {
	ID                 uuid.UUID          `db:"id"`
	Name               string             `db:"name"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

// InGoodStanding returns true if the merchant may accept redemptions
func (m *Merchant) InGoodStanding() bool {
	return m.SubscriptionStatus == SubscriptionActive || m.SubscriptionStatus == SubscriptionTrial
}
