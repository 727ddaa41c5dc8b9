package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/copyleftdev/autotune/internal/errors"
	"github.com/copyleftdev/autotune/internal/logging"
)

// Handler returns the full HTTP handler: middleware chain, health check,
// metrics endpoint and the API routes.
func (s *Server) Handler() http.Handler {
	httpLogger := s.logger.WithFields(map[string]interface{}{"component": "http"})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(httpLogger))
	r.Use(apperrors.RecoveryMiddleware(httpLogger))
	r.Use(apperrors.ErrorHandler(httpLogger))
	r.Use(s.metrics.Middleware)
	if s.cfg.HTTP.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.HTTP.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if logger := logging.FromContext(r.Context()); logger != nil {
			logger.Debug("Health check")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", s.metrics.Handler())

	s.RegisterRoutes(r)
	return r
}
