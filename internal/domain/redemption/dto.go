package redemption

import (
	"time"

	"github.com/google/uuid"
)

// GenerateTokenRequest for POST /redemptions/tokens
type GenerateTokenRequest struct {
	OfferID    string `json:"offer_id" validate:"required,uuid"`
	MerchantID string `json:"merchant_id" validate:"required,uuid"`
	DeviceHash string `json:"device_hash" validate:"required,devicehash"`
	PartySize  int    `json:"party_size" validate:"omitempty,gte=1,lte=20"`
}

// GenerateTokenResponse returns the signed token and its display code.
// The PIN is never in this response; it travels out-of-band to the
// customer's device.
type GenerateTokenResponse struct {
	TokenRef    string    `json:"token_ref"`
	DisplayCode string    `json:"display_code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ValidatePinRequest for POST /redemptions/validate-pin
type ValidatePinRequest struct {
	TokenRef string `json:"token_ref" validate:"required,max=512"`
	Pin      string `json:"pin" validate:"required,pin"`
}

// ValidatePinResponse confirms a verified PIN
type ValidatePinResponse struct {
	TokenID  uuid.UUID `json:"token_id"`
	Verified bool      `json:"verified"`
}

// FinalizeRequest for POST /redemptions/finalize
type FinalizeRequest struct {
	TokenRef string `json:"token_ref" validate:"required,max=512"`
}

// FinalizeResponse returns the completed redemption id
type FinalizeResponse struct {
	RedemptionID uuid.UUID `json:"redemption_id"`
}
