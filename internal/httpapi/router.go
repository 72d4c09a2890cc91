package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Router builds the chi router with CORS restricted to the configured origin
// allow-list. Preflight OPTIONS requests are answered by the middleware with
// no body.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Route("/api/address-search", func(r chi.Router) {
		r.Post("/", h.createJob)
		r.Get("/{jobID}", h.getResults)
		r.Get("/{jobID}/stream", h.streamJob)
	})

	return r
}
