package main

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter wires the public login route and the authenticated user routes.
// presence may be nil, in which case the presence routes are not mounted.
func NewRouter(h *Handler, presence *PresenceHandler, issuer *auth.Issuer, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(CORSMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	// Public endpoint
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(issuer, logger))

		r.Get("/users", h.SearchUsers)
		r.Get("/users/{id}/following", h.Following)
		r.Get("/users/{id}/followers", h.Followers)
		r.Put("/users/{id}/following/{target}", h.Follow)
		r.Delete("/users/{id}/following/{target}", h.Unfollow)

		if presence != nil {
			r.Get("/users/{id}/unread", presence.Unread)
			r.Get("/rooms/{peer}/presence", presence.Room)
		}
	})

	return r
}
