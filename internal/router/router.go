package router

import (
	"encoding/json"
	"net/http"

	"robux-shop/internal/handler"
	"robux-shop/internal/middleware"
	"robux-shop/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// New creates a new HTTP router with all routes and middleware configured.
// Delivery confirmation and refunds require adminKey; every other /api route
// requires apiKey.
func New(
	orderHandler *handler.OrderHandler,
	healthHandler *handler.HealthHandler,
	apiKey string,
	adminKey string,
	logger zerolog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Recovery -> RequestID -> Logging -> CORS, then APIKeyAuth per surface
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS)

	r.NotFound(jsonStatus(http.StatusNotFound, "NOT_FOUND", "route not found"))
	r.MethodNotAllowed(jsonStatus(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed"))

	// Health check endpoint (no authentication required)
	r.Get("/health", healthHandler.Health)

	r.Route("/api", func(r chi.Router) {
		// Buyer surface
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(apiKey, logger))

			r.Get("/quote", orderHandler.Quote)
			r.Post("/orders", orderHandler.Create)
			r.Get("/orders", orderHandler.List)
			r.Get("/orders/{id}", orderHandler.GetByID)
			r.Get("/orders/{id}/history", orderHandler.History)
			r.Post("/orders/{id}/cancel", orderHandler.Cancel)
			r.Post("/orders/{id}/check-payment", orderHandler.CheckPayment)
			r.Post("/orders/{id}/retry-payment", orderHandler.RetryPayment)
		})

		// Admin surface
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(adminKey, logger))

			r.Post("/orders/{id}/deliver", orderHandler.Deliver)
			r.Post("/orders/{id}/refund", orderHandler.Refund)
		})
	})

	return r
}

func jsonStatus(status int, code, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(model.ErrorResponse{Error: code, Message: message})
	}
}
