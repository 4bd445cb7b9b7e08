package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/inferloop/tsforecast/pkg/constants"
)

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.getVersion).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle(s.metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix(constants.APIPrefix).Subrouter()
	api.HandleFunc("/forecasts", s.createForecast).Methods(http.MethodPost)
	api.HandleFunc("/forecasts/{id}", s.getForecast).Methods(http.MethodGet)
	api.HandleFunc("/model", s.getModel).Methods(http.MethodGet)
}

// setupMiddleware installs middleware, outermost first. mux runs Use
// middleware only for matched routes, so the fallback handlers get the same
// chain explicitly.
func (s *Server) setupMiddleware() {
	chain := []mux.MiddlewareFunc{
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
	}
	if s.config.EnableCORS {
		chain = append(chain, s.corsMiddleware)
	}
	chain = append(chain, s.requestSizeLimitMiddleware)

	s.router.Use(chain...)
	s.router.NotFoundHandler = wrap(http.HandlerFunc(s.notFound), chain)
	s.router.MethodNotAllowedHandler = wrap(http.HandlerFunc(s.methodNotAllowed), chain)
}

func wrap(h http.Handler, chain []mux.MiddlewareFunc) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}
