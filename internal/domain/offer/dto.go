package offer

import (
	"time"

	"github.com/google/uuid"
)

// OfferResponse represents an offer in API
type OfferResponse struct {
	ID           uuid.UUID  `json:"id"`
	MerchantID   uuid.UUID  `json:"merchant_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	PointsCost   int64      `json:"points_cost"`
	MonthlyLimit int        `json:"monthly_limit,omitempty"`
	Status       string     `json:"status"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
}

// OfferResponseFromEntity converts offer to response
func OfferResponseFromEntity(o *Offer) *OfferResponse {
	resp := &OfferResponse{
		ID:           o.ID,
		MerchantID:   o.MerchantID,
		Title:        o.Title,
		PointsCost:   o.PointsCost,
		MonthlyLimit: o.MonthlyLimit,
		Status:       string(o.Status),
	}
	if o.Description.Valid {
		resp.Description = o.Description.String
	}
	if o.StartsAt.Valid {
		resp.StartsAt = &o.StartsAt.Time
	}
	if o.EndsAt.Valid {
		resp.EndsAt = &o.EndsAt.Time
	}
	return resp
}
