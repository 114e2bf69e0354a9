package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/chronicle"
	"github.com/platinummonkey/chronicle/pkg/httputil"
	"github.com/platinummonkey/chronicle/pkg/middleware"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

// Server represents the API server
type Server struct {
	db       *chronicle.DB
	router   *mux.Router
	logger   *logrus.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	health   *observability.HealthChecker
	limiter  middleware.Limiter
	maxLimit int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records HTTP metrics and serves gatherer on /metrics.
func WithMetrics(metrics *observability.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = metrics
		s.gatherer = gatherer
	}
}

// WithHealthChecker serves the checker on /healthz and /readyz.
func WithHealthChecker(h *observability.HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithRateLimit limits /v1 requests per client.
func WithRateLimit(limiter middleware.Limiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithMaxLimit caps the number of history rows per request.
func WithMaxLimit(n int) Option {
	return func(s *Server) { s.maxLimit = n }
}

// NewServer creates a new API server
func NewServer(db *chronicle.DB, opts ...Option) *Server {
	s := &Server{
		db:       db,
		router:   mux.NewRouter(),
		logger:   logrus.New(),
		maxLimit: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = observability.NewHealthChecker("dev")
		s.health.Register("storage", db, true)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
	)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	if s.limiter != nil {
		v1.Use(middleware.RateLimit(s.limiter, s.logger))
	}
	v1.HandleFunc("/collections/{name}/documents/{id}", s.getDocument).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{name}/documents/{id}/history", s.getDocumentHistory).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{name}/history", s.listHistory).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{name}/count", s.countDocuments).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.gatherer)).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// routeTemplate labels metrics by route pattern rather than raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
