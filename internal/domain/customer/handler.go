package customer

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perkly/perkly-api/internal/middleware"
	"github.com/perkly/perkly-api/internal/pkg/response"
)

// Handler handles customer HTTP requests
type Handler struct {
	repo Repository
}

// NewHandler creates customer handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// BalanceResponse represents the points balance in API
type BalanceResponse struct {
	PointsBalance int64 `json:"points_balance"`
}

// GetBalance handles GET /customers/me/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	c, err := h.repo.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			response.NotFound(w, "Customer not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, &BalanceResponse{PointsBalance: c.PointsBalance})
}

// Routes returns customer routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/me/balance", h.GetBalance)

	return r
}
