package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/register", apiHandler.RegisterHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/availability/{trainerID}", apiHandler.GetAvailabilityHandler)
		r.Get("/appointments/trainer/{trainerID}", apiHandler.TrainerAppointmentsHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)

			// Availability management, caller is the trainer
			r.Post("/availability", apiHandler.CreateAvailabilityHandler)
			r.Delete("/availability/windows/{id}", apiHandler.DeleteAvailabilityHandler)

			// Booking routes
			r.Post("/appointments", apiHandler.CreateAppointmentHandler)
			r.Get("/appointments", apiHandler.ListAppointmentsHandler)
			r.Put("/appointments/{id}", apiHandler.UpdateAppointmentHandler)
			r.Delete("/appointments/{id}", apiHandler.CancelAppointmentHandler)
			r.Post("/appointments/{id}/rate", apiHandler.RateAppointmentHandler)

			// Chat routes
			r.Post("/chat", apiHandler.CreateChatHandler)
			r.Get("/chat", apiHandler.ListChatsHandler)
			r.Delete("/chat/{id}", apiHandler.DeleteChatHandler)
			r.Post("/chat/{id}/messages", apiHandler.SendMessageHandler)
			r.Get("/chat/{id}/messages", apiHandler.GetMessagesHandler)
			r.Post("/chat/{id}/read", apiHandler.MarkReadHandler)
			r.Delete("/chat/messages/{id}", apiHandler.DeleteMessageHandler)
		})
	})

	return r
}
