package redemption

import "errors"

var (
	ErrTokenNotFound       = errors.New("redemption token not found")
	ErrTokenExpired        = errors.New("redemption token expired")
	ErrAlreadyUsed         = errors.New("redemption token already used")
	ErrPinLocked           = errors.New("pin attempts exhausted")
	ErrInvalidPin          = errors.New("invalid pin")
	ErrPinNotVerified      = errors.New("pin not verified")
	ErrMerchantMismatch    = errors.New("token belongs to another merchant")
	ErrRateLimited         = errors.New("token generation rate limit exceeded")
	ErrMonthlyLimitReached = errors.New("monthly redemption limit reached for offer")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrOfferInactive       = errors.New("offer is not active")
	ErrSubscriptionRequired = errors.New("merchant subscription not in good standing")

	// Transient failures; callers may safely retry with the same inputs.
	ErrConflict = errors.New("concurrent update conflict")
	ErrTimeout  = errors.New("operation deadline exceeded")
)
