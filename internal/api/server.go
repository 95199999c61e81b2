package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/sweetlink/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. bridge serves tab sockets and
// metricsHandler the Prometheus registry.
func (h *Handler) SetupRoutes(handshake *HandshakeHandler, bridge http.Handler, metricsHandler http.Handler, rateLimiter *ratelimit.Limiter) http.Handler {
	r := mux.NewRouter()

	// Unauthenticated endpoints. The bridge authenticates each tab with
	// the token in its register frame.
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/bridge", bridge).Methods("GET")

	requireCLI := RequireCLIToken(h.verifier, h.metrics)
	r.Handle("/metrics", accessLog(h.log)(requireCLI(metricsHandler))).Methods("GET")

	// Control plane, cli token required and rate limited per caller
	api := r.PathPrefix("/sessions").Subrouter()
	api.Use(accessLog(h.log))
	api.Use(requireCLI)
	api.Use(RateLimitMiddleware(rateLimiter))

	api.HandleFunc("", h.ListSessions).Methods("GET")
	api.HandleFunc("/handshake", handshake.Handshake).Methods("POST")
	api.HandleFunc("/{id}/console", h.GetConsole).Methods("GET")
	api.HandleFunc("/{id}/command", h.SendCommand).Methods("POST")
	api.HandleFunc("/{id}", h.DeleteSession).Methods("DELETE")

	// CORS wraps the router so preflights to any path get answered
	return corsMiddleware(r)
}
