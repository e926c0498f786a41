package rest

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/metrics"
	dncsvc "github.com/davidleathers/dnc-guard/internal/service/dnc"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

// Dependencies wires the services behind the router.
type Dependencies struct {
	Policy     *dncsvc.PolicyService
	Registry   *dncsvc.Registry
	Overrides  *dncsvc.OverrideService
	Engine     *dncsvc.Engine
	Dispatcher *enforcement.Dispatcher
	Auth       *AuthMiddleware
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger

	EvaluateRPS    float64
	EvaluateBurst  int
	MaxUploadBytes int64

	HealthChecks map[string]HealthCheck

	// Contract, when set, rejects API requests that do not match openapi.yaml.
	Contract *ContractValidator
}

// NewRouter builds the HTTP handler tree.
func NewRouter(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Policy == nil, deps.Registry == nil, deps.Overrides == nil, deps.Engine == nil:
		return nil, errors.NewValidationError("INVALID_DEPENDENCIES", "policy, registry, overrides and engine are required")
	case deps.Dispatcher == nil:
		return nil, errors.NewValidationError("INVALID_DEPENDENCIES", "dispatcher is required")
	case deps.Auth == nil:
		return nil, errors.NewValidationError("INVALID_DEPENDENCIES", "auth middleware is required")
	case deps.Logger == nil:
		return nil, errors.NewValidationError("INVALID_DEPENDENCIES", "logger is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}

	h := &Handler{
		policy:     deps.Policy,
		registry:   deps.Registry,
		overrides:  deps.Overrides,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		validate:   newValidator(),
		logger:     deps.Logger,
		maxUpload:  deps.MaxUploadBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLoggingMiddleware(deps.Logger))
	r.Use(MetricsMiddleware(deps.Metrics))

	r.Get("/healthz", h.healthz(deps.HealthChecks))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/openapi.yaml", serveOpenAPI)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		if deps.Contract != nil {
			r.Use(deps.Contract.Middleware(deps.Logger))
		}

		r.Route("/dnc", func(r chi.Router) {
			r.Get("/settings", h.handle(h.getSettings))
			r.Post("/settings", h.handle(h.updateSettings))
			r.Patch("/settings", h.handle(h.updateSettings))

			r.Get("/registry", h.handle(h.listEntries))
			r.Post("/registry", h.handle(h.createEntry))
			r.Get("/registry/{id}", h.handle(h.getEntry))
			r.Delete("/registry/{id}", h.handle(h.deleteEntry))
			r.Post("/upload", h.handle(h.upload))
			r.Get("/statistics", h.handle(h.statistics))

			r.Get("/override", h.handle(h.listOverrides))
			r.With(deps.Auth.RequireUser).Post("/override", h.handle(h.createOverride))

			evaluate := http.Handler(h.handle(h.evaluate))
			if deps.EvaluateRPS > 0 {
				evaluate = NewRateLimiter(deps.EvaluateRPS, deps.EvaluateBurst, deps.Logger).Middleware(evaluate)
			}
			r.Method(http.MethodPost, "/evaluate", evaluate)
		})

		r.With(deps.Auth.RequireUser).Post("/dispatch", h.handle(h.dispatch))
	})

	return otelhttp.NewHandler(r, "dnc-guard",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	), nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}
