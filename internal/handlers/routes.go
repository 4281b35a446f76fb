package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"personalization-sync/internal/middleware"
)

// SetupRoutes registers every route. The OAuth callback and health check are
// public; everything else under /api goes through authMiddleware. The
// callback is wrapped in callbackMiddleware, outermost first.
func SetupRoutes(router *mux.Router, h *Handlers, authMiddleware func(http.Handler) http.Handler, callbackMiddleware ...func(http.Handler) http.Handler) {
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// LinkedIn redirects here; the state token authenticates the request
	var callback http.Handler = http.HandlerFunc(h.LinkedInCallback)
	for i := len(callbackMiddleware) - 1; i >= 0; i-- {
		callback = callbackMiddleware[i](callback)
	}
	router.Handle("/api/linkedin/callback", callback).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/personalization/{trainerID}/{courseID}", h.GetPersonalization).Methods("GET")
	api.HandleFunc("/personalization/{trainerID}/{courseID}/linkedin/authorize", h.AuthorizeLinkedIn).Methods("POST")
	api.HandleFunc("/personalization/{trainerID}/{courseID}/linkedin/extract", h.ExtractLinkedIn).Methods("POST")
	api.HandleFunc("/personalization/{trainerID}/{courseID}/linkedin", h.DisconnectLinkedIn).Methods("DELETE")

	api.HandleFunc("/jobs/token-refresh/run", h.RunTokenRefresh).Methods("POST")
	api.HandleFunc("/jobs/token-refresh/status", h.TokenRefreshStatus).Methods("GET")
	api.HandleFunc("/jobs/profile-refresh/run", h.RunProfileRefresh).Methods("POST")
	api.HandleFunc("/jobs/profile-refresh/status", h.ProfileRefreshStatus).Methods("GET")
}
