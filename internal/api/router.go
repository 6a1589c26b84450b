package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/calderahq/crm-auth-be/internal/api/handlers"
	"github.com/calderahq/crm-auth-be/internal/auth"
	"github.com/calderahq/crm-auth-be/internal/services"
)

// NewRouter creates and configures a new Chi router.
func NewRouter(authService services.AuthServiceProvider, issuer *auth.Issuer) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration for development
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"}, // Adjust for your frontend URL
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handlers.NewAuthHandler(authService)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Get("/users", authHandler.ListUsers)

		// Routes requiring a valid session token
		r.Group(func(r chi.Router) {
			r.Use(issuer.Middleware())
			r.Post("/logout", authHandler.Logout)
			r.Get("/profile", authHandler.Profile)
		})
	})

	return r
}
