package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pneumoscan/pneumoscan/internal/metrics"
	"github.com/pneumoscan/pneumoscan/internal/middleware"
)

// multipartOverhead is the body allowance above MaxUploadSize for multipart
// boundaries, part headers and small form fields.
const multipartOverhead = 1 << 20

// RouterConfig wires handlers and middleware into the API router.
type RouterConfig struct {
	Logger        *slog.Logger
	IsDevelopment bool
	MaxUploadSize int64

	Verifier  middleware.TokenVerifier
	Recorder  metrics.Recorder
	RateLimit middleware.RateLimitConfig
	CORS      middleware.CORSConfig

	Predictions *PredictionHandler
	Accounts    *AccountHandler
	Stats       *StatsHandler
	Health      *HealthHandler
	Metrics     *MetricsHandler
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment}))
	r.Use(middleware.CORS(cfg.CORS))

	authCfg := middleware.AuthConfig{
		Logger:   logger,
		Verifier: cfg.Verifier,
		Recorder: cfg.Recorder,
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
		r.Get("/stats", cfg.Stats.Stats)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitIP(cfg.RateLimit))
			r.Post("/signup", cfg.Accounts.Signup)
			r.Post("/login", cfg.Accounts.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authCfg))
			r.Get("/dashboard", cfg.Predictions.Dashboard)
			r.With(
				middleware.RateLimitUploads(cfg.RateLimit),
				middleware.MaxBodySize(cfg.MaxUploadSize+multipartOverhead),
			).Post("/upload", cfg.Predictions.Upload)
		})
	})

	if cfg.Metrics != nil {
		r.Get("/metrics", cfg.Metrics.Metrics)
	}

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	return r
}
