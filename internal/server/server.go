package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.middleware)

	// Public, no auth.
	r.Get("/health", s.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Webhooks carry their own per-source authentication.
	r.Post("/webhooks/{source}", s.dispatcher.ServeHTTP)

	// Admin endpoints are not mounted without configured auth.
	if s.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.config.Auth, s.audit, s.authLimiter))
			r.Get("/status", s.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Get("/state", s.handleState())
				r.Get("/users", s.handleUsers())
				r.Get("/modules", s.handleModules())
			})
		})
	}

	return r
}

// gathererFor returns reg as a Gatherer when it is one, or the default
// registry.
func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}
