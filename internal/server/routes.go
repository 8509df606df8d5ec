package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Routes builds the relay's HTTP handler: the health check, the WebSocket
// endpoint, and the bearer-gated pre-auth API behind CORS.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)

	api := cors.New(cors.Options{
		AllowedOrigins: s.origins.corsOrigins(),
		AllowedMethods: []string{http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(api.Handler)
		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Post("/pending", s.registerPending)
			r.Delete("/pending/{userId}", s.unregisterPending)
		})
	})
	return r
}
