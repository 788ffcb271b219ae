package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/assistext/assistext/internal/http/handlers"
	httpmiddleware "github.com/assistext/assistext/internal/http/middleware"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	HealthHandler    *handlers.HealthHandler
	AdminTenants     *handlers.AdminTenantsHandler
	AdminAuthSecret  string
	MetricsHandler   http.Handler
	// RateLimiter throttles admin and metrics routes. Webhooks are exempt.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	limited := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limited = cfg.RateLimiter.Middleware
	}

	r.Get("/health", cfg.HealthHandler.Live)
	r.Get("/ready", cfg.HealthHandler.Ready)
	if cfg.MetricsHandler != nil {
		r.With(limited).Handle("/metrics", cfg.MetricsHandler)
	}

	// Carrier webhooks always answer 200 with empty LaML; no auth or
	// throttling in front of them beyond the signature check inside.
	if cfg.MessagingHandler != nil {
		webhooks := func(wh chi.Router) {
			wh.Post("/sms", cfg.MessagingHandler.InboundSMS)
			wh.Post("/status", cfg.MessagingHandler.StatusCallback)
		}
		r.Route("/webhooks", webhooks)
		r.Route("/api/webhooks", webhooks)
	}

	if cfg.AdminTenants != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(limited)
			admin.Use(middleware.Compress(5))
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Route("/tenants/{tenantID}", func(t chi.Router) {
				t.Use(requireTenantID)
				t.Get("/", cfg.AdminTenants.GetTenant)
				t.Post("/numbers", cfg.AdminTenants.AttachNumber)
			})
		})
	}

	return r
}
