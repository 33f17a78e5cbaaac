package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree.  Nil handlers leave their routes unregistered.
type RouterConfig struct {
	// Handlers
	ImportHandler  *handlers.ImportHandler
	PatternHandler *handlers.PatternHandler
	HealthHandler  *handlers.HealthHandler

	// Middleware settings
	CORSOrigins        []string
	RateLimitPerSecond int
	MaxBodySize        int64
	Logging            middleware.LoggingConfig

	// Infrastructure
	Logger           logging.Logger
	MetricsCollector prometheus.MetricsCollector
	AppMetrics       *prometheus.AppMetrics
}

// NewRouter constructs the complete HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RequestLogging(cfg.Logger, cfg.Logging))
	r.Use(middleware.Metrics(cfg.AppMetrics))

	// --- Probes ---
	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/healthz/detail", cfg.HealthHandler.Detailed)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsCollector != nil {
		r.Handle("/metrics", cfg.MetricsCollector.Handler())
	}

	// --- API v1 ---
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.RateLimit(cfg.RateLimitPerSecond))
		if cfg.MaxBodySize > 0 {
			api.Use(chimw.RequestSize(cfg.MaxBodySize))
		}

		registerImportRoutes(api, cfg.ImportHandler)
		registerPatternRoutes(api, cfg.PatternHandler)
	})

	return r
}

// registerImportRoutes mounts the import session endpoints.
func registerImportRoutes(r chi.Router, h *handlers.ImportHandler) {
	if h == nil {
		return
	}
	r.Route("/imports", func(ir chi.Router) {
		ir.Get("/", h.History)
		ir.Post("/", h.Submit)

		ir.Route("/{sessionID}", func(item chi.Router) {
			item.Get("/", h.Status)
			item.Post("/confirm", h.Confirm)
		})
	})
	r.Post("/documents/classify", h.Classify)
}

// registerPatternRoutes mounts lab analysis and pattern library endpoints.
func registerPatternRoutes(r chi.Router, h *handlers.PatternHandler) {
	if h == nil {
		return
	}
	r.Post("/labs/analyze", h.Analyze)
	r.Get("/labs/matches/recent", h.Recent)

	r.Route("/patterns", func(pr chi.Router) {
		pr.Get("/", h.List)
		pr.Get("/categories", h.Categories)
		pr.Get("/{patternID}", h.Get)
	})
}

//Personal.AI order the ending
