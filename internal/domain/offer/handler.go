package offer

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/perkly/perkly-api/internal/middleware"
	"github.com/perkly/perkly-api/internal/pkg/response"
)

// Handler handles offer HTTP requests
type Handler struct {
	repo Repository
}

// NewHandler creates offer handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /offers
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	offset := parseQueryInt(r, "offset", 0)

	offers, err := h.repo.ListActive(r.Context(), limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]*OfferResponse, len(offers))
	for i, o := range offers {
		items[i] = OfferResponseFromEntity(o)
	}
	response.OK(w, items)
}

// Get handles GET /offers/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid offer id")
		return
	}

	o, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			response.NotFound(w, "Offer not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, OfferResponseFromEntity(o))
}

// ListMine handles GET /offers/mine for merchants
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	merchantID := middleware.GetUserID(r.Context())

	offers, err := h.repo.ListByMerchant(r.Context(), merchantID)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]*OfferResponse, len(offers))
	for i, o := range offers {
		items[i] = OfferResponseFromEntity(o)
	}
	response.OK(w, items)
}

func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return defaultValue
	}
	return v
}
