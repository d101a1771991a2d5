// Package api exposes the acquisition service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-acquisition/internal/config"
	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
	"github.com/ahrav/scan-acquisition/pkg/common/otel"
	"github.com/ahrav/scan-acquisition/pkg/metrics"
)

// AcquisitionService is the subset of the acquisition service the API drives.
type AcquisitionService interface {
	Devices(ctx context.Context) ([]domain.DeviceDescriptor, error)
	Acquire(ctx context.Context, deviceID string, cfg domain.ScanConfiguration) ([]byte, error)
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build          string
	Log            *logger.Logger
	TracerProvider trace.TracerProvider
	Service        AcquisitionService
	Profiles       config.Profiles
	// Limiter bounds enumeration requests. Nil disables limiting.
	Limiter *common.RateLimiter
	Metrics *metrics.Metrics
}

// Server routes HTTP requests to the acquisition service.
type Server struct {
	build    string
	logger   *logger.Logger
	router   *chi.Mux
	service  AcquisitionService
	profiles config.Profiles
	limiter  *common.RateLimiter
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// untracedRoutes are not traced or counted.
var untracedRoutes = map[string]struct{}{
	"/v1/health":    {},
	"/v1/readiness": {},
	"/metrics":      {},
}

// NewServer creates a Server with all routes bound.
func NewServer(cfg Config) *Server {
	if cfg.Profiles == nil {
		cfg.Profiles = config.Profiles{}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelhttp.NewMiddleware("scan-acquisition-api",
		otelhttp.WithTracerProvider(cfg.TracerProvider),
		otelhttp.WithFilter(func(r *http.Request) bool {
			_, skip := untracedRoutes[r.URL.Path]
			return !skip
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	))
	r.Use(loggerMiddleware(cfg.Log))
	if cfg.Metrics != nil {
		r.Use(metricsMiddleware(cfg.Metrics))
	}
	r.Use(middleware.Recoverer)

	s := &Server{
		build:    cfg.Build,
		logger:   cfg.Log.With("component", "api"),
		router:   r,
		service:  cfg.Service,
		profiles: cfg.Profiles,
		limiter:  cfg.Limiter,
		metrics:  cfg.Metrics,
		validate: config.NewValidator(),
	}

	s.routes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(ctx),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// metricsMiddleware records requests by route pattern so path parameters such as
// device ids do not explode label cardinality.
func metricsMiddleware(m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := untracedRoutes[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			m.TrackRequest(r.Method, func() (string, int) {
				next.ServeHTTP(ww, r)
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				return route, ww.Status()
			})
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Get("/profiles", s.handleListProfiles)
		r.Get("/scanners", s.handleListScanners)
		r.Post("/scanners/{deviceID}/acquisitions", s.handleAcquire)
	})

	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}
