package api

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/arcanumlabs/arcanum/internal/middleware"
)

// NewRouter assembles the full HTTP surface.
func NewRouter(h *Handler, bridge *OracleBridge, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/auth/login", h.handleLogin)
	r.Get("/auth/callback", h.handleCallback)
	r.Post("/auth/logout", h.handleLogout)

	r.Get("/api/writings", h.handleListWritings)
	r.Get("/api/writings/{id}", h.handleGetWriting)
	r.Get("/api/tracks", h.handleListTracks)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Get("/api/me", h.handleMe)
		r.Post("/api/spellbook/edit", h.handleCast)
		r.Get("/ws/oracle", bridge.ServeHTTP)
	})

	return r
}
