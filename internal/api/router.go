/**
 * @description
 * This file sets up the HTTP router for the launchpad-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LaunchpadRoutes creates and returns a new router for the launchpad service.
func LaunchpadRoutes(h *LaunchpadHandlers, jwtSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))
		r.Use(AuthMiddleware(jwtSecret))

		// Campaign lifecycle
		r.Post("/campaigns", h.RegisterCampaignHandler)
		r.Get("/campaigns/{campaignID}", h.GetCampaignHandler)
		r.Get("/campaigns/{campaignID}/participants", h.ListParticipantsHandler)
		r.Post("/campaigns/{campaignID}/mint", h.MintHandler)
		r.Post("/campaigns/{campaignID}/claim", h.ClaimHandler)
		r.Post("/campaigns/{campaignID}/cancel", h.CancelHandler)
		r.Post("/campaigns/{campaignID}/sweep", h.SweepHandler)

		// Reward token operations
		r.Get("/tokens/{tokenID}", h.GetTokenHandler)
		r.Post("/tokens/{tokenID}/burn", h.BurnHandler)
		r.Post("/tokens/{tokenID}/split", h.SplitHandler)
		r.Post("/tokens/{tokenID}/merge", h.MergeHandler)
		r.Post("/tokens/{tokenID}/transfer", h.TransferHandler)
		r.Post("/tokens/{tokenID}/delegate", h.DelegateHandler)
		r.Post("/tokens/{tokenID}/recall", h.RecallHandler)
	})

	return r
}
