package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter собирает все маршруты админского API.
// Пустой secret отключает проверку токена.
func NewRouter(h *Handler, secret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(secret))

		r.Route("/loas", func(r chi.Router) {
			r.Get("/active", h.ListActive)
			r.Get("/pending", h.ListPending)
			r.Get("/calendar.ics", h.Calendar)
			r.Get("/{id}", h.GetLoa)
			r.Get("/{id}/edits", h.GetEdits)
			r.Get("/{id}/events", h.GetEvents)
		})

		r.Get("/users/{userID}/loas", h.UserHistory)
		r.Post("/reconcile", h.Reconcile)
	})

	return r
}

// NewServer - http.Server с таймаутами для main
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
