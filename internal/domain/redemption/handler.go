package redemption

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/perkly/perkly-api/internal/middleware"
	"github.com/perkly/perkly-api/internal/pkg/response"
	"github.com/perkly/perkly-api/internal/pkg/validator"
)

// Handler handles redemption HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates redemption handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GenerateToken handles POST /redemptions/tokens (customer)
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req GenerateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	offerID, _ := uuid.Parse(req.OfferID)
	merchantID, _ := uuid.Parse(req.MerchantID)

	result, err := h.service.Generate(r.Context(), userID, merchantID, offerID, req.DeviceHash, req.PartySize)
	if err != nil {
		h.writeError(w, err, 0)
		return
	}

	response.Created(w, &GenerateTokenResponse{
		TokenRef:    result.TokenRef,
		DisplayCode: result.DisplayCode,
		ExpiresAt:   result.ExpiresAt,
	})
}

// ValidatePin handles POST /redemptions/validate-pin (merchant)
func (h *Handler) ValidatePin(w http.ResponseWriter, r *http.Request) {
	var req ValidatePinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	merchantID := middleware.GetUserID(r.Context())

	result, err := h.service.ValidatePin(r.Context(), req.TokenRef, merchantID, req.Pin)
	if err != nil {
		remaining := 0
		if result != nil {
			remaining = result.AttemptsRemaining
		}
		h.writeError(w, err, remaining)
		return
	}

	response.OK(w, &ValidatePinResponse{
		TokenID:  result.TokenID,
		Verified: true,
	})
}

// Finalize handles POST /redemptions/finalize (merchant)
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	merchantID := middleware.GetUserID(r.Context())

	redemptionID, err := h.service.Finalize(r.Context(), req.TokenRef, merchantID)
	if err != nil {
		h.writeError(w, err, 0)
		return
	}

	response.OK(w, &FinalizeResponse{RedemptionID: redemptionID})
}

// writeError maps the redemption error taxonomy onto HTTP. Business-rule
// failures carry stable codes the merchant/customer apps branch on;
// Conflict and Timeout are retryable with the same inputs.
func (h *Handler) writeError(w http.ResponseWriter, err error, attemptsRemaining int) {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		response.NotFound(w, "Redemption token not found")
	case errors.Is(err, ErrTokenExpired):
		response.Gone(w, "TOKEN_EXPIRED", "Redemption token has expired")
	case errors.Is(err, ErrAlreadyUsed):
		response.Conflict(w, "ALREADY_USED", "Redemption token has already been used")
	case errors.Is(err, ErrPinLocked):
		response.Error(w, http.StatusLocked, "PIN_LOCKED", "PIN attempts exhausted, generate a new token")
	case errors.Is(err, ErrInvalidPin):
		response.ErrorWithDetails(w, http.StatusBadRequest, "INVALID_PIN", "Incorrect PIN",
			map[string]string{"attempts_remaining": strconv.Itoa(attemptsRemaining)})
	case errors.Is(err, ErrPinNotVerified):
		response.Conflict(w, "PIN_NOT_VERIFIED", "PIN must be verified before finalizing")
	case errors.Is(err, ErrMerchantMismatch):
		response.Forbidden(w, "Token belongs to another merchant")
	case errors.Is(err, ErrRateLimited):
		response.TooManyRequests(w, "Too many token requests, please try again later")
	case errors.Is(err, ErrMonthlyLimitReached):
		response.Conflict(w, "MONTHLY_LIMIT_REACHED", "Monthly redemption limit reached for this offer")
	case errors.Is(err, ErrInsufficientBalance):
		response.Conflict(w, "INSUFFICIENT_BALANCE", "Not enough points to redeem this offer")
	case errors.Is(err, ErrOfferInactive):
		response.Conflict(w, "OFFER_INACTIVE", "Offer is not currently active")
	case errors.Is(err, ErrSubscriptionRequired):
		response.Forbidden(w, "Subscription is not in good standing")
	case errors.Is(err, ErrConflict):
		response.ServiceUnavailable(w, "CONFLICT", "Concurrent update conflict, please retry")
	case errors.Is(err, ErrTimeout):
		response.ServiceUnavailable(w, "TIMEOUT", "Operation timed out, the request may be retried safely")
	default:
		response.InternalError(w)
	}
}
