package offer

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perkly/perkly-api/internal/middleware"
	"github.com/perkly/perkly-api/internal/pkg/jwt"
)

// Routes returns offer routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Browsing is public; merchant listing requires auth
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.With(middleware.RequireRole(jwt.RoleMerchant)).Get("/mine", h.ListMine)
	})

	return r
}
