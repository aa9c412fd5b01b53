package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/internal/headless"
	"github.com/pitabwire/cooldialog/internal/observability"
)

// Dependencies holds the injected dependencies of the control surface.
type Dependencies struct {
	Config       *config.Config
	Manager      *headless.Manager
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the middleware pipeline and every
// route. Health, readiness and metrics bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Control.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	r.Handle("/metrics", observability.Handler(deps.Gatherer))

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &dialogHandler{
		manager:    deps.Manager,
		scopeClaim: cfg.Control.Auth.ScopeClaim,
		scoped:     deps.Authenticate != nil,
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(auth)
		r.Use(HandlerTimeout(cfg.Control.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Route("/dialogs", func(r chi.Router) {
			r.Post("/", h.create)
			r.Get("/", h.list)

			r.Route("/{dialogID}", func(r chi.Router) {
				r.Get("/", h.snapshot)
				r.Delete("/", h.delete)
				r.Post("/actions", h.action)
				r.Post("/fields", h.fields)
				r.Post("/keys", h.key)
				r.Post("/alert", h.alert)
				r.Post("/windows/{procedureID}/{window}/activate", h.activate)
				r.Post("/windows/{procedureID}/{window}/close", h.closeWindow)
				r.Put("/windows/{procedureID}/{window}/geometry", h.geometry)
				r.Post("/procedures/{procedureID}/paging", h.paging)
				r.Get("/prompts", h.prompts)
				r.Post("/prompts/{promptID}", h.answer)
				r.Get("/errors", h.errorList)
				r.Get("/launches", h.launches)
			})
		})
	})

	return r
}
