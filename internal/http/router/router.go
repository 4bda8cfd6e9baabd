package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/product-catalog-backend/internal/health"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/handler"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/middleware"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/response"
)

type Dependencies struct {
	ProductHandler *handler.ProductHandler
	CORSOrigins    []string
	BodyLimitBytes int64
	RequestTimeout time.Duration
	APIPrefix      string
	RateLimiter    RateLimiterFunc
	Idempotency    IdempotencyMiddlewareFactory
	Readiness      *health.ProbeRunner
	MetricsHandler http.Handler
	EnableOTelHTTP bool
}

type RateLimiterFunc func(http.Handler) http.Handler
type IdempotencyMiddlewareFactory func(scope string) func(http.Handler) http.Handler

const (
	defaultBodyLimit    = 1 << 20
	ScopeProductsCreate = "products.create"
)

type readinessResponse struct {
	Status string               `json:"status"`
	Checks []health.CheckResult `json:"checks"`
}

type readinessFailure struct {
	response.ErrorBody
	Checks []health.CheckResult `json:"checks"`
}

func NewRouter(dep Dependencies) http.Handler {
	bodyLimit := dep.BodyLimitBytes
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog("/health/", "/metrics"))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(bodyLimit))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
	})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, readinessResponse{Status: "ready", Checks: []health.CheckResult{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, readinessResponse{Status: "ready", Checks: results})
			return
		}
		response.JSON(w, r, http.StatusServiceUnavailable, readinessFailure{
			ErrorBody: response.ErrorBody{
				StatusCode: http.StatusServiceUnavailable,
				Message:    "dependencies are not ready",
				Error:      http.StatusText(http.StatusServiceUnavailable),
			},
			Checks: results,
		})
	})
	if dep.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", dep.MetricsHandler)
	}

	api := func(r chi.Router) {
		if dep.RateLimiter != nil {
			r.Use(dep.RateLimiter)
		}
		if dep.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(dep.RequestTimeout))
		}
		r.Route("/products", func(r chi.Router) {
			createChain := []func(http.Handler) http.Handler{}
			if dep.Idempotency != nil {
				createChain = append(createChain, dep.Idempotency(ScopeProductsCreate))
			}
			r.With(createChain...).Post("/", dep.ProductHandler.Create)
			r.Get("/", dep.ProductHandler.List)
			r.Get("/{id}", dep.ProductHandler.Get)
			r.Patch("/{id}", dep.ProductHandler.Update)
			r.Delete("/{id}", dep.ProductHandler.Delete)
		})
	}
	if dep.APIPrefix != "" {
		r.Route(dep.APIPrefix, api)
	} else {
		r.Group(api)
	}

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
