package redemption

import (
	"time"

	"github.com/google/uuid"
)

// State represents a token's position in its lifecycle. Expired and Locked
// are evaluated lazily: nothing rewrites a row when its TTL passes, the state
// is derived on every access from the stored fields and the current time.
type State string

const (
	StateCreated     State = "created"
	StatePinPending  State = "pin_pending"
	StatePinVerified State = "pin_verified"
	StateRedeemed    State = "redeemed"
	StateExpired     State = "expired"
	StateLocked      State = "locked"
)

// Token represents one in-flight redemption attempt.
type Token struct {
	ID         uuid.UUID `db:"id"`
	UserID     uuid.UUID `db:"user_id"`
	MerchantID uuid.UUID `db:"merchant_id"`
	OfferID    uuid.UUID `db:"offer_id"`

	// DisplayCode is the short human-presentable fallback for the opaque
	// signed token. The PIN is delivered out-of-band to the customer only.
	DisplayCode string `db:"display_code"`
	Pin         string `db:"pin"`

	PinVerified bool `db:"pin_verified"`
	PinAttempts int  `db:"pin_attempts"`
	Used        bool `db:"used"`

	PartySize int `db:"party_size"`

	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// State derives the lifecycle state at the given instant.
// Precedence: a consumed token is Redeemed forever; a locked token stays
// Locked even past expiry so callers see a stable terminal reason.
func (t *Token) State(now time.Time, maxAttempts int) State {
	switch {
	case t.Used:
		return StateRedeemed
	case t.PinAttempts >= maxAttempts && !t.PinVerified:
		return StateLocked
	case !now.Before(t.ExpiresAt):
		return StateExpired
	case t.PinVerified:
		return StatePinVerified
	case t.PinAttempts > 0:
		return StatePinPending
	default:
		return StateCreated
	}
}

// IsRedeemable reports whether Finalize could succeed right now. This is a
// convenience read; the executor re-checks the same conditions inside its
// transaction because any check-then-act gap here is unsound on its own.
func (t *Token) IsRedeemable(now time.Time) bool {
	return !t.Used && t.PinVerified && now.Before(t.ExpiresAt)
}

// IsExpired reports whether the token's TTL has passed.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Redemption is the permanent record written when a token is consumed.
type Redemption struct {
	ID         uuid.UUID `db:"id"`
	TokenID    uuid.UUID `db:"token_id"`
	UserID     uuid.UUID `db:"user_id"`
	MerchantID uuid.UUID `db:"merchant_id"`
	OfferID    uuid.UUID `db:"offer_id"`
	Points     int64     `db:"points"`
	RedeemedAt time.Time `db:"redeemed_at"`
}
