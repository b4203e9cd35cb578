package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mangwale/voice-platform/internal/http/handlers"
	httpmiddleware "github.com/mangwale/voice-platform/internal/http/middleware"
	"github.com/mangwale/voice-platform/pkg/logging"
)

// Config holds router configuration. Handlers left nil simply do not mount,
// which keeps partial wirings (tests, the memory-queue dev mode) working.
type Config struct {
	Logger   *logging.Logger
	Callback *handlers.CallbackHandler
	Status   *handlers.StatusHandler
	Initiate *handlers.InitiateHandler
	Health   *handlers.HealthHandler
	Ops      *handlers.OpsHandler

	MetricsHandler http.Handler

	// AuthSecret signs the bearer tokens required on /initiate and /ops.
	AuthSecret string
	// InitiateRate/Burst rate-limit initiation per caller IP; zero disables.
	InitiateRate  float64
	InitiateBurst int
}

// New creates the Chi router with all routes configured. The carrier-facing
// paths stay public: the carrier sends no credentials, and it tears the live
// call down on any non-2xx, so nothing may stand between it and the handler.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Carrier-facing endpoints plus probes.
	r.Group(func(public chi.Router) {
		if cfg.Callback != nil {
			public.Get("/callback", cfg.Callback.Handle)
			public.Post("/callback", cfg.Callback.Handle)
		}
		if cfg.Status != nil {
			public.Post("/status", cfg.Status.Handle)
		}
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Initiation endpoints for the orders service.
	if cfg.Initiate != nil {
		r.Route("/initiate", func(initiate chi.Router) {
			initiate.Use(httpmiddleware.BearerAuth(cfg.AuthSecret))
			if cfg.InitiateRate > 0 {
				initiate.Use(httpmiddleware.RateLimit(cfg.InitiateRate, cfg.InitiateBurst))
			}
			initiate.Post("/vendor-order-confirmation", cfg.Initiate.HandleVendorOrder)
			initiate.Post("/rider-assignment", cfg.Initiate.HandleRiderAssignment)
		})
	}

	// Read-only ops surface.
	if cfg.Ops != nil {
		r.Route("/ops", func(ops chi.Router) {
			ops.Use(httpmiddleware.BearerAuth(cfg.AuthSecret))
			ops.Get("/sessions", cfg.Ops.ListSessions)
			ops.Get("/sessions/{callSid}", cfg.Ops.GetSession)
			ops.Get("/reports/{callSid}", cfg.Ops.GetReport)
			ops.Get("/totals", cfg.Ops.Totals)
		})
	}

	return r
}
