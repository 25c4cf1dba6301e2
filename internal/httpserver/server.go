package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/satring/server/internal/config"
	"github.com/satring/server/internal/l402"
	"github.com/satring/server/internal/lightning"
	"github.com/satring/server/internal/logger"
	"github.com/satring/server/internal/metrics"
	"github.com/satring/server/internal/ratelimit"
	"github.com/satring/server/internal/recovery"
	"github.com/satring/server/internal/storage"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	store    storage.Store
	invoices lightning.Client
	guard    *l402.Guard
	verifier *recovery.Verifier
	limits   *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, store storage.Store, invoices lightning.Client, guard *l402.Guard, verifier *recovery.Verifier, limits *ratelimit.Limiter, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	h := handlers{
		cfg:      cfg,
		store:    store,
		invoices: invoices,
		guard:    guard,
		verifier: verifier,
		limits:   limits,
		metrics:  metricsCollector,
		logger:   appLogger,
	}

	s := &Server{
		handlers: h,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	configureRouter(router, h)
	return s
}

// configureRouter attaches middleware and the route table.
func configureRouter(router chi.Router, h handlers) {
	if len(h.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins: h.cfg.Server.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Edit-Token"},
			ExposedHeaders: []string{"WWW-Authenticate", "X-Request-ID"},
			MaxAge:         300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(h.requestMetricsMiddleware)
	router.Use(sameOriginMiddleware(h.cfg.BaseHost()))

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/healthz", h.health)
	})

	router.With(adminMetricsAuth(h.cfg.Server.AdminMetricsAPIKey)).
		Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/services", h.listServices)

		// The bulk route must be registered before the slug route so that
		// "bulk" never resolves as a slug.
		r.With(h.guard.Require(h.cfg.Auth.BulkPriceSats, "satring: bulk export", "bulk_export")).
			Get("/services/bulk", h.bulkExport)

		r.Get("/services/{slug}", h.getService)

		r.With(h.limits.Submit(),
			h.guard.Require(h.cfg.Auth.SubmitPriceSats, "satring: submit listing", "submit")).
			Post("/services", h.createService)

		r.With(h.limits.Edit()).Patch("/services/{slug}", h.updateService)
		r.With(h.limits.Delete()).Delete("/services/{slug}", h.deleteService)

		r.With(h.limits.SearchAPI()).Get("/search", h.search)

		r.Get("/services/{slug}/ratings", h.listRatings)
		r.With(h.limits.Review(),
			h.guard.Require(h.cfg.Auth.ReviewPriceSats, "satring: submit review", "review")).
			Post("/services/{slug}/ratings", h.createRating)

		r.With(h.guard.Require(h.cfg.Auth.PriceSats, "satring: analytics", "analytics")).
			Get("/analytics", h.analytics)
		r.With(h.guard.Require(h.cfg.Auth.PriceSats, "satring: reputation", "reputation")).
			Get("/services/{slug}/reputation", h.reputation)

		r.Get("/categories", h.listCategories)

		r.With(h.limits.Recover()).
			Post("/services/{slug}/recover/generate", h.recoverGenerate)
		r.With(h.limits.Recover()).
			Post("/services/{slug}/recover/verify", h.recoverVerify)

		r.With(h.limits.PaymentStatus()).
			Get("/payment-status/{hash}", h.paymentStatus)
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
