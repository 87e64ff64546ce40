// Package api provides the HTTP API for PurePulse.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/purepulse/purepulse/internal/api/handler"
	"github.com/purepulse/purepulse/internal/api/middleware"
	"github.com/purepulse/purepulse/internal/api/models"
	"github.com/purepulse/purepulse/internal/api/response"
	"github.com/purepulse/purepulse/internal/transport"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	AirQuality handler.AirQualityExtractor
	Weather    handler.WeatherExtractor

	// Providers and Throttle feed the ops status endpoint.
	Providers *transport.Registry
	Throttle  handler.Throttle

	// ExtractRateLimit overrides middleware.ExtractRateLimit when set.
	ExtractRateLimit *middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "purepulse-api"
	}
	extractLimit := middleware.ExtractRateLimit
	if cfg.ExtractRateLimit != nil {
		extractLimit = *cfg.ExtractRateLimit
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewProblem(models.ProblemTypeNotFound, "Method not allowed", http.StatusMethodNotAllowed, middleware.GetRequestID(r.Context()))
		response.Error(w, r, problem.WithDetail(r.Method+" is not supported on "+r.URL.Path))
	})

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Providers, cfg.Throttle)
	extractHandler := handler.NewExtractHandler(cfg.AirQuality, cfg.Weather, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.StandardRateLimit))
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/extract", func(r chi.Router) {
			r.Use(middleware.RequireJSON)
			r.Use(middleware.RateLimitByEndpoint(extractLimit))
			r.Post("/purpleair", extractHandler.PurpleAir)
			r.Post("/wunderground", extractHandler.Wunderground)
		})
	})

	return r
}
