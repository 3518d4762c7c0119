package redemption

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perkly/perkly-api/internal/middleware"
	"github.com/perkly/perkly-api/internal/pkg/jwt"
	"github.com/perkly/perkly-api/internal/pkg/response"
)

// Routes returns redemption routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)

	// Customer side
	r.With(middleware.RequireRole(jwt.RoleCustomer)).Post("/tokens", h.GenerateToken)

	// Merchant side
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(jwt.RoleMerchant))
		r.Post("/validate-pin", h.ValidatePin)
		r.Post("/finalize", h.Finalize)
		r.Get("/tokens/{ref}/redeemable", h.CheckRedeemable)
	})

	return r
}

// CheckRedeemable handles GET /redemptions/tokens/{ref}/redeemable.
// Advisory only; Finalize re-checks everything transactionally.
func (h *Handler) CheckRedeemable(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if ref == "" {
		response.BadRequest(w, "Missing token ref")
		return
	}

	ok, err := h.service.IsRedeemable(r.Context(), ref)
	if err != nil {
		h.writeError(w, err, 0)
		return
	}

	response.OK(w, map[string]bool{"redeemable": ok})
}
